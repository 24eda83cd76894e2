package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

const (
	// Diagnostic ECG band. Energy outside it is baseline wander below and
	// muscle/mains artifact above.
	lowCutoffHz  = 0.5
	highCutoffHz = 40.0

	// Baseline estimation window in seconds.
	baselineWindowSeconds = 0.8
)

// Clean removes baseline wander and out-of-band noise from every lead.
// The input matrix is never modified and the output always has the same
// shape. Leads whose filtered output is not finite are passed through
// unchanged with a warning; cleaning never fails outright.
func Clean(m *waveform.Matrix, meta waveform.Metadata) (*waveform.Matrix, []string) {
	var warnings []string

	nyquist := meta.SampleRate / 2
	high := math.Min(highCutoffHz, nyquist)
	bandUsable := high > lowCutoffHz
	if !bandUsable {
		warnings = append(warnings, fmt.Sprintf("preprocess: sample rate %g Hz too low for %g-%g Hz band-pass, baseline removal only", meta.SampleRate, lowCutoffHz, highCutoffHz))
	}

	out := make([][]float64, m.NumLeads())
	for i := 0; i < m.NumLeads(); i++ {
		lead := m.Lead(i)
		cleaned := subtractBaseline(lead, meta.SampleRate)
		if bandUsable {
			cleaned = bandPass(cleaned, meta.SampleRate, lowCutoffHz, high)
		}
		if !allFinite(cleaned) {
			warnings = append(warnings, fmt.Sprintf("preprocess: lead %d filter output not finite, original signal retained", i))
			cleaned = append([]float64(nil), lead...)
		}
		out[i] = cleaned
	}

	matrix, err := waveform.NewMatrix(out)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("preprocess: could not assemble cleaned matrix (%v), original signal retained", err))
		return m, warnings
	}
	return matrix, warnings
}

// subtractBaseline removes a centered moving-mean estimate of the baseline.
// The window shrinks at the edges so the output keeps the input length.
func subtractBaseline(lead []float64, sampleRate float64) []float64 {
	n := len(lead)
	window := int(math.Round(baselineWindowSeconds * sampleRate))
	if window%2 == 0 {
		window++
	}
	if window < 3 || window >= n {
		mean := stat.Mean(lead, nil)
		out := make([]float64, n)
		for i, v := range lead {
			out[i] = v - mean
		}
		return out
	}

	prefix := make([]float64, n+1)
	for i, v := range lead {
		prefix[i+1] = prefix[i] + v
	}

	half := window / 2
	out := make([]float64, n)
	for i := range lead {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > n {
			hi = n
		}
		baseline := (prefix[hi] - prefix[lo]) / float64(hi-lo)
		out[i] = lead[i] - baseline
	}
	return out
}

// bandPass zeroes Fourier coefficients outside [low, high] Hz and inverts.
func bandPass(lead []float64, sampleRate, low, high float64) []float64 {
	n := len(lead)
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, lead)
	for i := range coeffs {
		freq := fft.Freq(i) * sampleRate
		if freq < low || freq > high {
			coeffs[i] = 0
		}
	}
	out := fft.Sequence(nil, coeffs)
	scale := 1 / float64(n)
	for i := range out {
		out[i] *= scale
	}
	return out
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
