package waveform

import (
	"bytes"
	"encoding/binary"
	"math"
)

// The proprietary acquisition format: "MEDW" magic, version byte, uint16
// lead count, uint32 samples per lead, float32 sample rate, a lead name
// table (uint8 length + bytes each), then lead-major float64 samples.
// All integers and floats are little-endian.
var binaryMagic = []byte("MEDW")

const (
	binaryVersion    = 1
	binaryHeaderSize = 4 + 1 + 2 + 4 + 4
)

func parseBinary(data []byte) ([][]float64, []string, float64, error) {
	if len(data) < binaryHeaderSize {
		return nil, nil, 0, truncatedErr("binary header needs %d bytes, have %d", binaryHeaderSize, len(data))
	}
	if !bytes.HasPrefix(data, binaryMagic) {
		return nil, nil, 0, malformedErr("missing %q magic", binaryMagic)
	}
	if version := data[4]; version != binaryVersion {
		return nil, nil, 0, unsupportedErr("binary version %d not supported", version)
	}

	leadCount := int(binary.LittleEndian.Uint16(data[5:7]))
	samplesPerLead := int(binary.LittleEndian.Uint32(data[7:11]))
	sampleRate := float64(math.Float32frombits(binary.LittleEndian.Uint32(data[11:15])))
	if leadCount == 0 {
		return nil, nil, 0, malformedErr("binary header declares zero leads")
	}
	if samplesPerLead == 0 {
		return nil, nil, 0, malformedErr("binary header declares zero samples per lead")
	}

	offset := binaryHeaderSize
	names := make([]string, leadCount)
	for i := 0; i < leadCount; i++ {
		if offset >= len(data) {
			return nil, nil, 0, truncatedErr("lead name table ends at lead %d of %d", i, leadCount)
		}
		nameLen := int(data[offset])
		offset++
		if offset+nameLen > len(data) {
			return nil, nil, 0, truncatedErr("lead %d name needs %d bytes past end of payload", i, offset+nameLen-len(data))
		}
		names[i] = string(data[offset : offset+nameLen])
		offset += nameLen
	}

	want := leadCount * samplesPerLead * 8
	rest := len(data) - offset
	if rest < want {
		return nil, nil, 0, truncatedErr("sample block needs %d bytes, have %d", want, rest)
	}
	if rest > want {
		return nil, nil, 0, malformedErr("%d unexpected trailing bytes after sample block", rest-want)
	}

	leads := make([][]float64, leadCount)
	for i := 0; i < leadCount; i++ {
		leads[i] = make([]float64, samplesPerLead)
		for j := 0; j < samplesPerLead; j++ {
			bits := binary.LittleEndian.Uint64(data[offset : offset+8])
			leads[i][j] = math.Float64frombits(bits)
			offset += 8
		}
	}
	return leads, names, sampleRate, nil
}

// EncodeBinary serialises a matrix into the proprietary acquisition format.
// Lead names longer than 255 bytes are truncated.
func EncodeBinary(m *Matrix, meta Metadata) []byte {
	leadCount := m.NumLeads()
	samplesPerLead := m.NumSamples()
	sampleRate := meta.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	names := resolveLeadNames(leadCount, meta.LeadNames, nil)

	size := binaryHeaderSize + leadCount*samplesPerLead*8
	for _, name := range names {
		if len(name) > 255 {
			name = name[:255]
		}
		size += 1 + len(name)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, binaryMagic...)
	buf = append(buf, binaryVersion)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(leadCount))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(samplesPerLead))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(sampleRate)))
	for _, name := range names {
		if len(name) > 255 {
			name = name[:255]
		}
		buf = append(buf, byte(len(name)))
		buf = append(buf, name...)
	}
	for i := 0; i < leadCount; i++ {
		for _, v := range m.Lead(i) {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return buf
}
