package features

import (
	"math"
	"sort"
)

// Morphology windows around each R peak, in seconds. The windows follow
// standard surface-ECG landmarks and are clamped to the recording edges.
const (
	refractorySeconds = 0.2
	peakThresholdFrac = 0.5

	qrsLevelFrac     = 0.3
	qrsSearchSeconds = 0.08
	pSearchLowSec    = 0.25
	pSearchHighSec   = 0.08
	tSearchLowSec    = 0.15
	tSearchHighScale = 0.45 // seconds per sqrt(second) of cycle length
	tEndLevelFrac    = 0.1
	prSegmentLowSec  = 0.08
	prSegmentHighSec = 0.03
	stSegmentLowSec  = 0.08
	stSegmentHighSec = 0.12
)

// detectRPeaks finds local maxima above half the global maximum, enforcing
// a refractory period in which only the larger candidate survives.
func detectRPeaks(lead []float64, sampleRate float64) []int {
	maxV := 0.0
	for _, v := range lead {
		if v > maxV {
			maxV = v
		}
	}
	if maxV <= 0 {
		return nil
	}
	threshold := peakThresholdFrac * maxV
	refractory := int(refractorySeconds * sampleRate)
	if refractory < 1 {
		refractory = 1
	}

	var peaks []int
	for i := 1; i < len(lead)-1; i++ {
		if lead[i] < threshold || lead[i] <= lead[i-1] || lead[i] < lead[i+1] {
			continue
		}
		if len(peaks) > 0 && i-peaks[len(peaks)-1] < refractory {
			if lead[i] > lead[peaks[len(peaks)-1]] {
				peaks[len(peaks)-1] = i
			}
			continue
		}
		peaks = append(peaks, i)
	}
	return peaks
}

// rrIntervalsMS converts peak positions to successive R-R intervals.
func rrIntervalsMS(peaks []int, sampleRate float64) []float64 {
	if len(peaks) < 2 {
		return nil
	}
	intervals := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals[i-1] = float64(peaks[i]-peaks[i-1]) / sampleRate * 1000
	}
	return intervals
}

// qrsBounds walks outward from the R peak until the signal drops below a
// fraction of the peak amplitude, bounded by the QRS search window.
func qrsBounds(lead []float64, peak int, sampleRate float64) (onset, offset int) {
	level := qrsLevelFrac * lead[peak]
	limit := int(qrsSearchSeconds * sampleRate)

	onset = peak
	for onset > 0 && peak-onset < limit && math.Abs(lead[onset-1]) > level {
		onset--
	}
	offset = peak
	for offset < len(lead)-1 && offset-peak < limit && math.Abs(lead[offset+1]) > level {
		offset++
	}
	return onset, offset
}

// windowArgMax returns the index of the maximum inside [lo, hi).
func windowArgMax(lead []float64, lo, hi int) (int, bool) {
	if lo < 0 {
		lo = 0
	}
	if hi > len(lead) {
		hi = len(lead)
	}
	if lo >= hi {
		return 0, false
	}
	best := lo
	for i := lo + 1; i < hi; i++ {
		if lead[i] > lead[best] {
			best = i
		}
	}
	return best, true
}

func windowMean(lead []float64, lo, hi int) (float64, bool) {
	if lo < 0 {
		lo = 0
	}
	if hi > len(lead) {
		hi = len(lead)
	}
	if lo >= hi {
		return 0, false
	}
	var sum float64
	for i := lo; i < hi; i++ {
		sum += lead[i]
	}
	return sum / float64(hi-lo), true
}

type beatIntervals struct {
	prMS  float64
	qrsMS float64
	qtMS  float64
	hasPR bool
	hasQT bool
}

// measureBeat derives interval morphology around one R peak. The PR
// interval is approximated as the P-peak to R-peak separation; the T
// peak is searched between 150 ms and 0.45*sqrt(RR) s after the R peak.
func measureBeat(lead []float64, peak int, sampleRate, rrMeanSec float64) beatIntervals {
	toSamples := func(seconds float64) int { return int(seconds * sampleRate) }

	onset, offset := qrsBounds(lead, peak, sampleRate)
	out := beatIntervals{qrsMS: float64(offset-onset) / sampleRate * 1000}

	if pPeak, ok := windowArgMax(lead, peak-toSamples(pSearchLowSec), peak-toSamples(pSearchHighSec)); ok {
		if lead[pPeak] > 0 {
			out.prMS = float64(peak-pPeak) / sampleRate * 1000
			out.hasPR = true
		}
	}

	tSearchHighSec := tSearchHighScale * math.Sqrt(rrMeanSec)
	if tPeak, ok := windowArgMax(lead, peak+toSamples(tSearchLowSec), peak+toSamples(tSearchHighSec)); ok {
		if amp := lead[tPeak]; amp > 0 {
			tEnd := tPeak
			for tEnd < len(lead)-1 && lead[tEnd+1] > tEndLevelFrac*amp {
				tEnd++
			}
			out.qtMS = float64(tEnd-onset) / sampleRate * 1000
			out.hasQT = out.qtMS > 0
		}
	}
	return out
}

// stElevationMV measures the J-point segment level against the PR-segment
// baseline for one beat.
func stElevationMV(lead []float64, peak int, sampleRate float64) (float64, bool) {
	toSamples := func(seconds float64) int { return int(seconds * sampleRate) }

	baseline, okBase := windowMean(lead, peak-toSamples(prSegmentLowSec), peak-toSamples(prSegmentHighSec))
	st, okST := windowMean(lead, peak+toSamples(stSegmentLowSec), peak+toSamples(stSegmentHighSec))
	if !okBase || !okST {
		return 0, false
	}
	return st - baseline, true
}

func median(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}
