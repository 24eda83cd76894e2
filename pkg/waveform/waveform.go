package waveform

import (
	"errors"
	"fmt"
)

// Matrix is an immutable lead-major sample matrix. Every lead carries the
// same number of samples, in millivolts.
type Matrix struct {
	leads [][]float64
}

func NewMatrix(leads [][]float64) (*Matrix, error) {
	if len(leads) == 0 {
		return nil, errors.New("matrix requires at least one lead")
	}
	samples := len(leads[0])
	if samples == 0 {
		return nil, errors.New("matrix requires at least one sample per lead")
	}
	copied := make([][]float64, len(leads))
	for i, lead := range leads {
		if len(lead) != samples {
			return nil, fmt.Errorf("lead %d has %d samples, expected %d", i, len(lead), samples)
		}
		copied[i] = make([]float64, samples)
		copy(copied[i], lead)
	}
	return &Matrix{leads: copied}, nil
}

func (m *Matrix) NumLeads() int {
	if m == nil {
		return 0
	}
	return len(m.leads)
}

func (m *Matrix) NumSamples() int {
	if m == nil || len(m.leads) == 0 {
		return 0
	}
	return len(m.leads[0])
}

// Lead returns the sample stream for one lead. Callers must treat the
// returned slice as read-only; use Clone before modifying.
func (m *Matrix) Lead(i int) []float64 {
	return m.leads[i]
}

func (m *Matrix) Clone() *Matrix {
	if m == nil {
		return nil
	}
	copied := make([][]float64, len(m.leads))
	for i, lead := range m.leads {
		copied[i] = make([]float64, len(lead))
		copy(copied[i], lead)
	}
	return &Matrix{leads: copied}
}

// Metadata describes how the signal in a Matrix was acquired.
type Metadata struct {
	SampleRate float64  `json:"sample_rate"`
	LeadNames  []string `json:"lead_names"`
	Samples    int      `json:"samples"`
	DurationS  float64  `json:"duration_s"`
	Format     string   `json:"format"`
}

// Hint carries caller-supplied acquisition details for payloads whose
// container format does not embed them.
type Hint struct {
	Format     string   `json:"format,omitempty"`
	SampleRate float64  `json:"sample_rate,omitempty"`
	LeadNames  []string `json:"lead_names,omitempty"`
}

func defaultLeadNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("lead_%d", i+1)
	}
	return names
}
