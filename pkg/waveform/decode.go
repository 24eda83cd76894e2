package waveform

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"math"
	"strconv"
	"strings"
)

const (
	FormatCSV    = "csv"
	FormatText   = "txt"
	FormatXML    = "xml"
	FormatBinary = "medai"

	// DefaultSampleRate applies when neither the payload nor the caller
	// supplies an acquisition rate.
	DefaultSampleRate = 500.0

	// Signals shorter than this cannot carry a single cardiac cycle at any
	// plausible heart rate and are rejected as truncated.
	minDurationSeconds = 1.0
)

// Decode parses a raw signal payload into a waveform matrix and its
// acquisition metadata. The format is taken from the hint when present,
// otherwise sniffed from the payload. All failures are DecodeErrors.
func Decode(data []byte, hint Hint) (*Matrix, Metadata, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, Metadata{}, malformedErr("empty signal payload")
	}

	format := normalizeFormat(hint.Format)
	if format == "" {
		format = sniffFormat(data)
		if format == "" {
			return nil, Metadata{}, unsupportedErr("unable to determine signal format")
		}
	}

	var (
		leads        [][]float64
		names        []string
		embeddedRate float64
		err          error
	)
	switch format {
	case FormatCSV:
		leads, names, err = parseCSV(data)
	case FormatText:
		leads, err = parseText(data)
	case FormatXML:
		leads, names, embeddedRate, err = parseXML(data)
	case FormatBinary:
		leads, names, embeddedRate, err = parseBinary(data)
	default:
		return nil, Metadata{}, unsupportedErr("format %q not supported", format)
	}
	if err != nil {
		return nil, Metadata{}, err
	}

	if len(leads) == 0 {
		return nil, Metadata{}, malformedErr("payload contains no leads")
	}
	for i, lead := range leads {
		if len(lead) != len(leads[0]) {
			return nil, Metadata{}, malformedErr("lead %d has %d samples, lead 0 has %d", i, len(lead), len(leads[0]))
		}
		for j, v := range lead {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, Metadata{}, malformedErr("non-finite sample in lead %d at index %d", i, j)
			}
		}
	}

	sampleRate := DefaultSampleRate
	if embeddedRate != 0 {
		if embeddedRate <= 0 || math.IsNaN(embeddedRate) || math.IsInf(embeddedRate, 0) {
			return nil, Metadata{}, malformedErr("invalid embedded sample rate %v", embeddedRate)
		}
		sampleRate = embeddedRate
	}
	if hint.SampleRate > 0 {
		sampleRate = hint.SampleRate
	}

	samples := len(leads[0])
	if float64(samples) < sampleRate*minDurationSeconds {
		return nil, Metadata{}, truncatedErr("%d samples at %g Hz is shorter than %gs", samples, sampleRate, minDurationSeconds)
	}

	matrix, err := NewMatrix(leads)
	if err != nil {
		return nil, Metadata{}, malformedErr("invalid matrix: %v", err)
	}

	meta := Metadata{
		SampleRate: sampleRate,
		LeadNames:  resolveLeadNames(len(leads), names, hint.LeadNames),
		Samples:    samples,
		DurationS:  float64(samples) / sampleRate,
		Format:     format,
	}
	return matrix, meta, nil
}

func normalizeFormat(format string) string {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "":
		return ""
	case "csv":
		return FormatCSV
	case "txt", "text":
		return FormatText
	case "xml":
		return FormatXML
	case "medai", "binary", "bin":
		return FormatBinary
	default:
		return strings.TrimSpace(strings.ToLower(format))
	}
}

func sniffFormat(data []byte) string {
	if bytes.HasPrefix(data, binaryMagic) {
		return FormatBinary
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return FormatXML
	}
	firstLine := trimmed
	if idx := bytes.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	if bytes.IndexByte(firstLine, ',') >= 0 {
		return FormatCSV
	}
	fields := strings.Fields(string(firstLine))
	if len(fields) > 0 {
		if _, err := strconv.ParseFloat(fields[0], 64); err == nil {
			return FormatText
		}
	}
	return ""
}

func resolveLeadNames(leadCount int, embedded, hinted []string) []string {
	names := defaultLeadNames(leadCount)
	for i := 0; i < leadCount && i < len(embedded); i++ {
		if trimmed := strings.TrimSpace(embedded[i]); trimmed != "" {
			names[i] = trimmed
		}
	}
	if len(hinted) == leadCount {
		for i, name := range hinted {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				names[i] = trimmed
			}
		}
	}
	return names
}

// parseCSV reads one sample per row, one lead per column. A first row that
// does not parse as numbers is taken as the lead name header.
func parseCSV(data []byte) ([][]float64, []string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, malformedErr("invalid csv: %v", err)
	}
	if len(records) == 0 {
		return nil, nil, malformedErr("csv payload has no rows")
	}

	var names []string
	if !numericRow(records[0]) {
		names = records[0]
		records = records[1:]
		if len(records) == 0 {
			return nil, nil, malformedErr("csv payload has a header but no samples")
		}
	}

	columns := len(records[0])
	if columns == 0 {
		return nil, nil, malformedErr("csv payload has no columns")
	}
	leads := make([][]float64, columns)
	for i := range leads {
		leads[i] = make([]float64, 0, len(records))
	}
	for rowIdx, record := range records {
		for colIdx, cell := range record {
			value, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, nil, malformedErr("csv row %d column %d: %q is not a number", rowIdx+1, colIdx+1, cell)
			}
			leads[colIdx] = append(leads[colIdx], value)
		}
	}
	return leads, names, nil
}

func numericRow(record []string) bool {
	for _, cell := range record {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil {
			return false
		}
	}
	return len(record) > 0
}

// parseText reads whitespace-separated columns, one sample per line.
// Blank lines and lines starting with '#' are skipped.
func parseText(data []byte) ([][]float64, error) {
	var leads [][]float64
	lineNo := 0
	for _, line := range strings.Split(string(data), "\n") {
		lineNo++
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if leads == nil {
			leads = make([][]float64, len(fields))
		}
		if len(fields) != len(leads) {
			return nil, malformedErr("line %d has %d columns, expected %d", lineNo, len(fields), len(leads))
		}
		for colIdx, field := range fields {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, malformedErr("line %d column %d: %q is not a number", lineNo, colIdx+1, field)
			}
			leads[colIdx] = append(leads[colIdx], value)
		}
	}
	if leads == nil {
		return nil, malformedErr("text payload has no sample lines")
	}
	return leads, nil
}

type xmlSignal struct {
	XMLName    xml.Name  `xml:"ecg"`
	SampleRate float64   `xml:"sample-rate,attr"`
	Leads      []xmlLead `xml:"lead"`
}

type xmlLead struct {
	Name    string `xml:"name,attr"`
	Samples string `xml:",chardata"`
}

func parseXML(data []byte) ([][]float64, []string, float64, error) {
	var doc xmlSignal
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, 0, malformedErr("invalid xml: %v", err)
	}
	if len(doc.Leads) == 0 {
		return nil, nil, 0, malformedErr("xml payload declares no leads")
	}
	leads := make([][]float64, len(doc.Leads))
	names := make([]string, len(doc.Leads))
	for i, lead := range doc.Leads {
		names[i] = lead.Name
		fields := strings.Fields(lead.Samples)
		if len(fields) == 0 {
			return nil, nil, 0, malformedErr("xml lead %d has no samples", i)
		}
		leads[i] = make([]float64, len(fields))
		for j, field := range fields {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, 0, malformedErr("xml lead %d sample %d: %q is not a number", i, j, field)
			}
			leads[i][j] = value
		}
	}
	return leads, names, doc.SampleRate, nil
}
