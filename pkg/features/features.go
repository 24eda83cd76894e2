package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/drguilhermecapel/medai-sub005/pkg/quality"
	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

// Set maps feature names to values. Every key below is always present:
// measurements that cannot be made carry their documented default instead.
type Set map[string]float64

const (
	KeyHeartRate       = "heart_rate"
	KeyRRMean          = "rr_mean"
	KeyRRStd           = "rr_std"
	KeyRRCV            = "rr_cv"
	KeyRMSSD           = "rmssd"
	KeyPRInterval      = "pr_interval"
	KeyQRSDuration     = "qrs_duration"
	KeyQTInterval      = "qt_interval"
	KeyQTc             = "qtc"
	KeySpectralEntropy = "spectral_entropy"
	KeySTElevation     = "st_elevation"
	KeySTElevationMV   = "st_elevation_mv"
	KeyIrregularRhythm = "irregular_rhythm"
	KeySignalQuality   = "signal_quality"
	KeyLeadCount       = "lead_count"
	KeySampleRate      = "sample_rate"
	KeyDurationS       = "duration_s"
)

// Defaults used when a measurement is indeterminate. Intervals are typical
// adult resting values in milliseconds.
const (
	DefaultHeartRateBPM    = 70.0
	DefaultRRMeanMS        = 857.1
	DefaultPRIntervalMS    = 160.0
	DefaultQRSDurationMS   = 90.0
	DefaultQTIntervalMS    = 400.0
	DefaultQTcMS           = 400.0
	DefaultSpectralEntropy = 0.5

	irregularRhythmCV = 0.15
	stElevationFlagMV = 0.1
)

func Defaults() Set {
	return Set{
		KeyHeartRate:       DefaultHeartRateBPM,
		KeyRRMean:          DefaultRRMeanMS,
		KeyRRStd:           0,
		KeyRRCV:            0,
		KeyRMSSD:           0,
		KeyPRInterval:      DefaultPRIntervalMS,
		KeyQRSDuration:     DefaultQRSDurationMS,
		KeyQTInterval:      DefaultQTIntervalMS,
		KeyQTc:             DefaultQTcMS,
		KeySpectralEntropy: DefaultSpectralEntropy,
		KeySTElevation:     0,
		KeySTElevationMV:   0,
		KeyIrregularRhythm: 0,
		KeySignalQuality:   0.5,
		KeyLeadCount:       1,
		KeySampleRate:      waveform.DefaultSampleRate,
		KeyDurationS:       0,
	}
}

// Extract measures rhythm, interval and spectral features on the best
// quality lead. It never fails: indeterminate measurements fall back to
// their defaults and are reported as warnings.
func Extract(m *waveform.Matrix, meta waveform.Metadata, q quality.Report) (set Set, warnings []string) {
	set = Defaults()
	defer func() {
		if r := recover(); r != nil {
			set = Defaults()
			warnings = []string{fmt.Sprintf("features: internal fault (%v), defaults substituted", r)}
		}
	}()

	set[KeySignalQuality] = q.OverallScore
	set[KeyLeadCount] = float64(m.NumLeads())
	set[KeySampleRate] = meta.SampleRate
	if meta.DurationS > 0 {
		set[KeyDurationS] = meta.DurationS
	} else if meta.SampleRate > 0 {
		set[KeyDurationS] = float64(m.NumSamples()) / meta.SampleRate
	}

	lead := m.Lead(referenceLead(q, m.NumLeads()))
	if entropy, ok := spectralEntropy(lead); ok {
		set.putFinite(KeySpectralEntropy, entropy)
	}

	peaks := detectRPeaks(lead, meta.SampleRate)
	if len(peaks) < 2 {
		return set, append(warnings, "features: fewer than two R peaks detected, rhythm defaults applied")
	}

	rr := rrIntervalsMS(peaks, meta.SampleRate)
	rrMean := stat.Mean(rr, nil)
	if rrMean > 0 && set.putFinite(KeyRRMean, rrMean) {
		set.putFinite(KeyHeartRate, 60000/rrMean)
	}
	rrStd := stat.PopStdDev(rr, nil)
	if set.putFinite(KeyRRStd, rrStd) && rrMean > 0 {
		set.putFinite(KeyRRCV, rrStd/rrMean)
	}
	if set[KeyRRCV] > irregularRhythmCV {
		set[KeyIrregularRhythm] = 1
	}
	if len(rr) >= 2 {
		var sumSq float64
		for i := 1; i < len(rr); i++ {
			d := rr[i] - rr[i-1]
			sumSq += d * d
		}
		set.putFinite(KeyRMSSD, math.Sqrt(sumSq/float64(len(rr)-1)))
	}

	var prs, qrss, qts, sts []float64
	for _, peak := range peaks {
		beat := measureBeat(lead, peak, meta.SampleRate, rrMean/1000)
		if beat.qrsMS > 0 {
			qrss = append(qrss, beat.qrsMS)
		}
		if beat.hasPR {
			prs = append(prs, beat.prMS)
		}
		// A QT at or beyond the mean cycle length is degenerate morphology.
		if beat.hasQT && beat.qtMS < rrMean {
			qts = append(qts, beat.qtMS)
		}
		if elevation, ok := stElevationMV(lead, peak, meta.SampleRate); ok {
			sts = append(sts, elevation)
		}
	}

	if v, ok := median(qrss); ok {
		set.putFinite(KeyQRSDuration, v)
	} else {
		warnings = append(warnings, "features: QRS duration indeterminate, default applied")
	}
	if v, ok := median(prs); ok {
		set.putFinite(KeyPRInterval, v)
	} else {
		warnings = append(warnings, "features: PR interval indeterminate, default applied")
	}
	if v, ok := median(qts); ok && set.putFinite(KeyQTInterval, v) {
		rrSeconds := set[KeyRRMean] / 1000
		if rrSeconds > 0 {
			set.putFinite(KeyQTc, v/math.Sqrt(rrSeconds))
		}
	} else if !ok {
		warnings = append(warnings, "features: QT interval indeterminate, default applied")
	}
	if v, ok := median(sts); ok && set.putFinite(KeySTElevationMV, v) {
		if v > stElevationFlagMV {
			set[KeySTElevation] = 1
		}
	}

	return set, warnings
}

// putFinite stores the value unless it is NaN or infinite, keeping the
// previously stored default in that case.
func (s Set) putFinite(key string, value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	s[key] = value
	return true
}

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func referenceLead(q quality.Report, leadCount int) int {
	if len(q.Leads) != leadCount {
		return 0
	}
	best := 0
	for i := range q.Leads {
		if q.Leads[i].Score > q.Leads[best].Score {
			best = i
		}
	}
	return best
}

// spectralEntropy is the Shannon entropy of the normalised power spectrum,
// scaled to [0,1]. The DC bin is excluded.
func spectralEntropy(lead []float64) (float64, bool) {
	fft := fourier.NewFFT(len(lead))
	coeffs := fft.Coefficients(nil, lead)
	if len(coeffs) < 3 {
		return 0, false
	}
	powers := make([]float64, 0, len(coeffs)-1)
	var total float64
	for i := 1; i < len(coeffs); i++ {
		p := real(coeffs[i])*real(coeffs[i]) + imag(coeffs[i])*imag(coeffs[i])
		powers = append(powers, p)
		total += p
	}
	if total <= 0 {
		return 0, false
	}
	for i := range powers {
		powers[i] /= total
	}
	entropy := stat.Entropy(powers) / math.Log(float64(len(powers)))
	if math.IsNaN(entropy) || math.IsInf(entropy, 0) {
		return 0, false
	}
	return entropy, true
}
