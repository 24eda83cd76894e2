package features

import (
	"math"
	"testing"

	"github.com/drguilhermecapel/medai-sub005/pkg/quality"
	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

func addGauss(lead []float64, sampleRate, centerSec, sigmaSec, amplitude float64) {
	lo := int((centerSec - 4*sigmaSec) * sampleRate)
	hi := int((centerSec + 4*sigmaSec) * sampleRate)
	for i := lo; i <= hi; i++ {
		if i < 0 || i >= len(lead) {
			continue
		}
		t := float64(i)/sampleRate - centerSec
		lead[i] += amplitude * math.Exp(-t*t/(2*sigmaSec*sigmaSec))
	}
}

func addShelf(lead []float64, sampleRate, fromSec, toSec, level float64) {
	for i := int(fromSec * sampleRate); i < int(toSec*sampleRate); i++ {
		if i >= 0 && i < len(lead) {
			lead[i] += level
		}
	}
}

// syntheticECG builds a P-QRS-T beat train. With irregular set, beat
// spacing alternates between 0.7x and 1.3x of the nominal interval.
func syntheticECG(heartRateBPM, sampleRate, seconds float64, irregular bool, stShelfMV float64) []float64 {
	lead := make([]float64, int(seconds*sampleRate))
	step := 60 / heartRateBPM
	t0 := 0.5
	beat := 0
	for t0 < seconds-0.6 {
		addGauss(lead, sampleRate, t0-0.16, 0.02, 0.15)
		addGauss(lead, sampleRate, t0, 0.01, 1.5)
		addGauss(lead, sampleRate, t0+0.25, 0.04, 0.3)
		if stShelfMV != 0 {
			addShelf(lead, sampleRate, t0+0.05, t0+0.14, stShelfMV)
		}
		if irregular && beat%2 == 0 {
			t0 += step * 1.3
		} else if irregular {
			t0 += step * 0.7
		} else {
			t0 += step
		}
		beat++
	}
	return lead
}

func extractSingle(t *testing.T, lead []float64, sampleRate float64) (Set, []string) {
	t.Helper()
	m, err := waveform.NewMatrix([][]float64{lead})
	if err != nil {
		t.Fatalf("failed to build matrix: %v", err)
	}
	meta := waveform.Metadata{SampleRate: sampleRate, Samples: len(lead), DurationS: float64(len(lead)) / sampleRate}
	return Extract(m, meta, quality.Report{OverallScore: 1.0, Leads: []quality.LeadQuality{{Score: 1.0}}})
}

var requiredKeys = []string{
	KeyHeartRate, KeyRRMean, KeyRRStd, KeyRRCV, KeyRMSSD,
	KeyPRInterval, KeyQRSDuration, KeyQTInterval, KeyQTc,
	KeySpectralEntropy, KeySTElevation, KeySTElevationMV,
	KeyIrregularRhythm, KeySignalQuality, KeyLeadCount,
	KeySampleRate, KeyDurationS,
}

func TestExtractNormalRhythm(t *testing.T) {
	set, warnings := extractSingle(t, syntheticECG(75, 500, 10, false, 0), 500)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if hr := set[KeyHeartRate]; math.Abs(hr-75) > 3 {
		t.Fatalf("heart rate off: got %v want about 75", hr)
	}
	if set[KeyRRStd] > 30 {
		t.Fatalf("regular rhythm should have low rr_std, got %v", set[KeyRRStd])
	}
	if set[KeyIrregularRhythm] != 0 {
		t.Fatal("regular rhythm flagged irregular")
	}
	if pr := set[KeyPRInterval]; pr < 120 || pr > 200 {
		t.Fatalf("PR interval out of expected range: %v", pr)
	}
	if qrs := set[KeyQRSDuration]; qrs <= 0 || qrs > 120 {
		t.Fatalf("QRS duration out of expected range: %v", qrs)
	}
	if qt := set[KeyQTInterval]; qt < 250 || qt > 450 {
		t.Fatalf("QT interval out of expected range: %v", qt)
	}
	if set[KeySTElevation] != 0 {
		t.Fatal("unexpected ST elevation flag")
	}
}

func TestExtractIrregularRhythm(t *testing.T) {
	set, _ := extractSingle(t, syntheticECG(75, 500, 10, true, 0), 500)
	if set[KeyIrregularRhythm] != 1 {
		t.Fatalf("alternating rhythm not flagged irregular, rr_cv=%v", set[KeyRRCV])
	}
	if set[KeyRRStd] < 100 {
		t.Fatalf("alternating rhythm rr_std too low: %v", set[KeyRRStd])
	}
	if set[KeyRMSSD] <= 0 {
		t.Fatalf("rmssd should be positive, got %v", set[KeyRMSSD])
	}
}

func TestExtractTachycardiaQT(t *testing.T) {
	set, warnings := extractSingle(t, syntheticECG(150, 500, 10, false, 0), 500)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if hr := set[KeyHeartRate]; math.Abs(hr-150) > 5 {
		t.Fatalf("heart rate off: got %v want about 150", hr)
	}
	if qt, rr := set[KeyQTInterval], set[KeyRRMean]; qt >= rr {
		t.Fatalf("QT %v ms cannot reach the mean cycle length %v ms", qt, rr)
	}
	if qt := set[KeyQTInterval]; qt < 250 || qt > 380 {
		t.Fatalf("QT interval out of expected range at 150 bpm: %v", qt)
	}
}

func TestExtractSTElevation(t *testing.T) {
	set, _ := extractSingle(t, syntheticECG(75, 500, 10, false, 0.25), 500)
	if set[KeySTElevation] != 1 {
		t.Fatalf("ST shelf not flagged, measured %v mV", set[KeySTElevationMV])
	}
	if set[KeySTElevationMV] < 0.15 {
		t.Fatalf("ST magnitude too low: %v", set[KeySTElevationMV])
	}
}

func TestExtractFlatSignalUsesDefaults(t *testing.T) {
	set, warnings := extractSingle(t, make([]float64, 5000), 500)
	if len(warnings) == 0 {
		t.Fatal("expected a degradation warning")
	}
	if set[KeyHeartRate] != DefaultHeartRateBPM {
		t.Fatalf("expected default heart rate, got %v", set[KeyHeartRate])
	}
	if set[KeyPRInterval] != DefaultPRIntervalMS || set[KeyQTInterval] != DefaultQTIntervalMS {
		t.Fatalf("expected default intervals, got pr=%v qt=%v", set[KeyPRInterval], set[KeyQTInterval])
	}
}

func TestRequiredKeysAlwaysPresent(t *testing.T) {
	flat, _ := extractSingle(t, make([]float64, 5000), 500)
	normal, _ := extractSingle(t, syntheticECG(75, 500, 10, false, 0), 500)
	for _, set := range []Set{flat, normal, Defaults()} {
		for _, key := range requiredKeys {
			if _, ok := set[key]; !ok {
				t.Fatalf("missing required key %q", key)
			}
		}
	}
}

func TestExtractUsesBestQualityLead(t *testing.T) {
	ecg := syntheticECG(75, 500, 10, false, 0)
	m, err := waveform.NewMatrix([][]float64{make([]float64, len(ecg)), ecg})
	if err != nil {
		t.Fatalf("failed to build matrix: %v", err)
	}
	meta := waveform.Metadata{SampleRate: 500, DurationS: 10}
	report := quality.Report{
		OverallScore: 0.5,
		Leads:        []quality.LeadQuality{{Score: 0}, {Score: 1}},
	}

	set, _ := Extract(m, meta, report)
	if math.Abs(set[KeyHeartRate]-75) > 3 {
		t.Fatalf("best lead not used: heart rate %v", set[KeyHeartRate])
	}
}

func TestBazettCorrection(t *testing.T) {
	set, _ := extractSingle(t, syntheticECG(75, 500, 10, false, 0), 500)
	rrSeconds := set[KeyRRMean] / 1000
	want := set[KeyQTInterval] / math.Sqrt(rrSeconds)
	if math.Abs(set[KeyQTc]-want) > 1e-9 {
		t.Fatalf("Bazett correction mismatch: got %v want %v", set[KeyQTc], want)
	}
	if set[KeyQTc] <= set[KeyQTInterval] {
		t.Fatalf("qtc should exceed qt above 60 bpm: qtc=%v qt=%v", set[KeyQTc], set[KeyQTInterval])
	}
}

func TestDetectRPeaksRefractory(t *testing.T) {
	lead := make([]float64, 2000)
	lead[500] = 1.0
	lead[520] = 1.2
	lead[1000] = 1.1
	lead[1500] = 1.0

	peaks := detectRPeaks(lead, 500)
	if len(peaks) != 3 {
		t.Fatalf("expected 3 peaks after refractory merge, got %v", peaks)
	}
	if peaks[0] != 520 {
		t.Fatalf("refractory merge should keep the larger peak, got %v", peaks)
	}
}

func TestSpectralEntropyBounds(t *testing.T) {
	sine := make([]float64, 1000)
	for i := range sine {
		sine[i] = math.Sin(2 * math.Pi * 5 * float64(i) / 500)
	}
	entropy, ok := spectralEntropy(sine)
	if !ok {
		t.Fatal("entropy not computed for sine")
	}
	if entropy < 0 || entropy > 0.2 {
		t.Fatalf("pure tone entropy should be near 0, got %v", entropy)
	}

	ecgEntropy, ok := spectralEntropy(syntheticECG(75, 500, 10, false, 0))
	if !ok || ecgEntropy <= entropy || ecgEntropy > 1 {
		t.Fatalf("ECG entropy out of range: %v", ecgEntropy)
	}
}
