package quality

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

type ArtifactKind string

const (
	ArtifactFlatLine   ArtifactKind = "flat_line"
	ArtifactSaturation ArtifactKind = "saturation"
	ArtifactHighNoise  ArtifactKind = "high_noise"
)

const (
	// Variance below this means the lead recorded nothing.
	flatLineVariance = 1e-10

	// Physiologic amplitude ceiling in millivolts.
	saturationCeilingMV = 5.0

	// Lead score penalties.
	highVarianceMV2  = 4.0
	nearSaturationMV = 4.0
	nearFlatVariance = 0.005

	// Spectral band edges.
	noiseCutoffHz  = 40.0
	wanderCutoffHz = 1.0

	// High-pass residual window for SNR estimation.
	residualWindowSeconds = 0.02

	// Per-lead noise ratio above which the lead is tagged as an artifact.
	// The aggregate issue threshold below is deliberately lower.
	highNoiseLeadRatio = 0.4

	poorQualityThreshold = 0.5
	noiseIssueThreshold  = 0.3
	wanderIssueThreshold = 0.2
	lowSNRThresholdDB    = 10.0

	minSNRdB = -20.0
	maxSNRdB = 60.0
)

type LeadQuality struct {
	Name           string         `json:"name"`
	Score          float64        `json:"score"`
	SNRdB          float64        `json:"snr_db"`
	NoiseRatio     float64        `json:"noise_ratio"`
	BaselineWander float64        `json:"baseline_wander"`
	Artifacts      []ArtifactKind `json:"artifacts,omitempty"`
}

type Report struct {
	OverallScore   float64        `json:"overall_score"`
	NoiseLevel     float64        `json:"noise_level"`
	BaselineWander float64        `json:"baseline_wander"`
	SNRdB          float64        `json:"snr_db"`
	Leads          []LeadQuality  `json:"leads,omitempty"`
	Artifacts      []ArtifactKind `json:"artifacts,omitempty"`
	Issues         []string       `json:"issues,omitempty"`
}

// NeutralReport is the substitute when quality assessment itself fails.
// It neither promotes nor demotes downstream confidence.
func NeutralReport() Report {
	return Report{OverallScore: 0.5}
}

// Analyze scores each lead of a cleaned matrix and aggregates the result.
// It never fails: internal faults degrade to NeutralReport with a warning.
func Analyze(m *waveform.Matrix, meta waveform.Metadata) (report Report, warnings []string) {
	defer func() {
		if r := recover(); r != nil {
			report = NeutralReport()
			warnings = []string{fmt.Sprintf("quality: internal fault (%v), neutral report substituted", r)}
		}
	}()

	fft := fourier.NewFFT(m.NumSamples())
	leads := make([]LeadQuality, m.NumLeads())
	scores := make([]float64, m.NumLeads())
	snrs := make([]float64, m.NumLeads())
	noises := make([]float64, m.NumLeads())
	wanders := make([]float64, m.NumLeads())
	for i := range leads {
		leads[i] = analyzeLead(m.Lead(i), meta, fft, leadName(meta, i))
		scores[i] = leads[i].Score
		snrs[i] = leads[i].SNRdB
		noises[i] = leads[i].NoiseRatio
		wanders[i] = leads[i].BaselineWander
	}

	report = Report{
		OverallScore:   stat.Mean(scores, nil),
		NoiseLevel:     stat.Mean(noises, nil),
		BaselineWander: stat.Mean(wanders, nil),
		SNRdB:          stat.Mean(snrs, nil),
		Leads:          leads,
	}
	if !finite(report.OverallScore) || !finite(report.NoiseLevel) || !finite(report.BaselineWander) || !finite(report.SNRdB) {
		return NeutralReport(), []string{"quality: non-finite aggregate, neutral report substituted"}
	}

	seen := make(map[ArtifactKind]struct{})
	for _, lead := range leads {
		for _, artifact := range lead.Artifacts {
			if _, ok := seen[artifact]; ok {
				continue
			}
			seen[artifact] = struct{}{}
			report.Artifacts = append(report.Artifacts, artifact)
		}
	}

	if report.OverallScore < poorQualityThreshold {
		report.Issues = append(report.Issues, "Poor overall signal quality")
	}
	if report.NoiseLevel > noiseIssueThreshold {
		report.Issues = append(report.Issues, "High noise level")
	}
	if report.BaselineWander > wanderIssueThreshold {
		report.Issues = append(report.Issues, "Significant baseline wander")
	}
	if report.SNRdB < lowSNRThresholdDB {
		report.Issues = append(report.Issues, "Low signal-to-noise ratio")
	}
	return report, nil
}

func analyzeLead(lead []float64, meta waveform.Metadata, fft *fourier.FFT, name string) LeadQuality {
	variance := stat.PopVariance(lead, nil)
	maxAbs := 0.0
	for _, v := range lead {
		if abs := math.Abs(v); abs > maxAbs {
			maxAbs = abs
		}
	}

	lq := LeadQuality{Name: name}
	if variance < flatLineVariance {
		lq.SNRdB = minSNRdB
		lq.Artifacts = append(lq.Artifacts, ArtifactFlatLine)
		return lq
	}

	lq.NoiseRatio, lq.BaselineWander = spectralRatios(lead, meta.SampleRate, fft)
	lq.SNRdB = snrDB(lead, variance, meta.SampleRate)

	penalty := 0.0
	if variance > highVarianceMV2 {
		penalty += 0.3
	}
	if maxAbs > nearSaturationMV {
		penalty += 0.2
	}
	if variance < nearFlatVariance {
		penalty += 0.2
	}
	lq.Score = clip01(1.0 - penalty)

	if maxAbs >= saturationCeilingMV {
		lq.Artifacts = append(lq.Artifacts, ArtifactSaturation)
	}
	if lq.NoiseRatio > highNoiseLeadRatio {
		lq.Artifacts = append(lq.Artifacts, ArtifactHighNoise)
	}
	return lq
}

// spectralRatios returns the high-frequency and low-frequency power shares.
// The DC bin is excluded so a residual offset does not count as wander.
func spectralRatios(lead []float64, sampleRate float64, fft *fourier.FFT) (noise, wander float64) {
	coeffs := fft.Coefficients(nil, lead)
	var total, high, low float64
	for i := 1; i < len(coeffs); i++ {
		power := real(coeffs[i])*real(coeffs[i]) + imag(coeffs[i])*imag(coeffs[i])
		total += power
		freq := fft.Freq(i) * sampleRate
		if freq > noiseCutoffHz {
			high += power
		}
		if freq <= wanderCutoffHz {
			low += power
		}
	}
	if total == 0 {
		return 0, 0
	}
	return high / total, low / total
}

// snrDB treats the short-window moving-mean residual as noise.
func snrDB(lead []float64, variance, sampleRate float64) float64 {
	window := int(math.Round(residualWindowSeconds * sampleRate))
	if window < 2 {
		window = 2
	}
	if window > len(lead) {
		window = len(lead)
	}

	prefix := make([]float64, len(lead)+1)
	for i, v := range lead {
		prefix[i+1] = prefix[i] + v
	}
	half := window / 2
	var residualSum, residualSumSq float64
	for i := range lead {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(lead) {
			hi = len(lead)
		}
		smoothed := (prefix[hi] - prefix[lo]) / float64(hi-lo)
		r := lead[i] - smoothed
		residualSum += r
		residualSumSq += r * r
	}
	n := float64(len(lead))
	residualVar := residualSumSq/n - (residualSum/n)*(residualSum/n)
	if residualVar <= 0 {
		return maxSNRdB
	}
	snr := 10 * math.Log10(variance/residualVar)
	if snr < minSNRdB {
		return minSNRdB
	}
	if snr > maxSNRdB {
		return maxSNRdB
	}
	return snr
}

func leadName(meta waveform.Metadata, i int) string {
	if i < len(meta.LeadNames) {
		return meta.LeadNames[i]
	}
	return fmt.Sprintf("lead_%d", i+1)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
