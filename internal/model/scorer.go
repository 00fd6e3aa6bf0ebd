package model

import (
	"math"

	"github.com/nice-bills/chain-segment/internal/domain"
)

// Scorer assigns a normalized vector to the nearest persona. Safe for
// concurrent use.
type Scorer struct {
	art     *ClusterArtifact
	version string
}

// NewScorer validates art and wraps it. version is stamped on every result.
func NewScorer(art *ClusterArtifact, version string) (*Scorer, error) {
	if art == nil {
		return nil, mismatch("nil cluster artifact")
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{art: art, version: version}, nil
}

// Personas returns the persona labels in cluster order.
func (s *Scorer) Personas() []string {
	out := make([]string, len(s.art.Clusters))
	for i, c := range s.art.Clusters {
		out[i] = c.Persona
	}
	return out
}

// Distances returns the Euclidean distance from v to every centroid.
func (s *Scorer) Distances(v domain.NormalizedVector) ([]float64, error) {
	width := len(s.art.FeatureNames)
	if len(v.Values) != width {
		return nil, mismatch("normalized vector has %d values, centroids have %d", len(v.Values), width)
	}
	if len(v.Names) != 0 {
		if len(v.Names) != width {
			return nil, mismatch("normalized vector has %d names, centroids have %d", len(v.Names), width)
		}
		for i, name := range v.Names {
			if name != s.art.FeatureNames[i] {
				return nil, mismatch("feature %d is %q, centroids expect %q", i, name, s.art.FeatureNames[i])
			}
		}
	}

	dists := make([]float64, len(s.art.Clusters))
	for k, c := range s.art.Clusters {
		var sum float64
		for i, x := range v.Values {
			d := x - c.Centroid[i]
			sum += d * d
		}
		dists[k] = math.Sqrt(sum)
		if !isFinite(dists[k]) {
			return nil, normErr("distance to cluster %d is not finite", k)
		}
	}
	return dists, nil
}

// Score computes confidences as softmax(-d/temperature) over centroid
// distances, shifted by the minimum distance for stability. The assigned
// cluster is the arg-max confidence; equal confidences resolve to the lowest
// index.
func (s *Scorer) Score(v domain.NormalizedVector) (*domain.PersonaResult, error) {
	dists, err := s.Distances(v)
	if err != nil {
		return nil, err
	}

	probs := softmaxNeg(dists, s.art.Temperature)

	best := 0
	for k := 1; k < len(probs); k++ {
		if probs[k] > probs[best] {
			best = k
		}
	}

	conf := make(map[string]float64, len(probs))
	for k, p := range probs {
		conf[s.art.Clusters[k].Persona] = p
	}

	return &domain.PersonaResult{
		ClusterIndex: best,
		Persona:      s.art.Clusters[best].Persona,
		Confidences:  conf,
		Stats:        map[string]float64{},
		AccountKind:  domain.AccountUnknown,
		ModelVersion: s.version,
	}, nil
}

func softmaxNeg(dists []float64, temperature float64) []float64 {
	minD := dists[0]
	for _, d := range dists[1:] {
		if d < minD {
			minD = d
		}
	}

	out := make([]float64, len(dists))
	var sum float64
	for k, d := range dists {
		out[k] = math.Exp(-(d - minD) / temperature)
		sum += out[k]
	}
	// sum >= 1 because the nearest centroid contributes exp(0).
	for k := range out {
		out[k] /= sum
	}
	return out
}
