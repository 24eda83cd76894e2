package explain

import (
	"math"
	"sort"

	"github.com/drguilhermecapel/medai-sub005/pkg/features"
	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

// AttributionSource supplies per-feature attribution blocks and per-lead
// attention maps for an explanation bundle. The heuristic default derives
// both from the signal itself; a learned model can be substituted here
// without touching the narrative assembly.
type AttributionSource interface {
	FeatureAttributions(set features.Set) []Attribution
	LeadAttention(m *waveform.Matrix) [][]float64
}

const attentionBuckets = 64

type heuristicSource struct{}

func (heuristicSource) FeatureAttributions(set features.Set) []Attribution {
	out := make([]Attribution, 0, len(importanceOrder))
	for _, key := range importanceOrder {
		value, ok := set[key]
		if !ok {
			continue
		}
		out = append(out, Attribution{Feature: key, Value: value, Weight: importanceWeight(key)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// LeadAttention reduces each lead to a normalized magnitude envelope of at
// most 64 buckets, so regions with larger deflections carry larger values.
func (heuristicSource) LeadAttention(m *waveform.Matrix) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, m.NumLeads())
	for i := 0; i < m.NumLeads(); i++ {
		out[i] = magnitudeEnvelope(m.Lead(i))
	}
	return out
}

func magnitudeEnvelope(samples []float64) []float64 {
	buckets := attentionBuckets
	if len(samples) < buckets {
		buckets = len(samples)
	}
	if buckets == 0 {
		return []float64{}
	}
	env := make([]float64, buckets)
	peak := 0.0
	for b := 0; b < buckets; b++ {
		lo := b * len(samples) / buckets
		hi := (b + 1) * len(samples) / buckets
		sum := 0.0
		for _, v := range samples[lo:hi] {
			sum += math.Abs(v)
		}
		env[b] = sum / float64(hi-lo)
		if env[b] > peak {
			peak = env[b]
		}
	}
	if peak > 0 {
		for b := range env {
			env[b] /= peak
		}
	}
	return env
}
