package model

import (
	"github.com/nice-bills/chain-segment/internal/domain"
)

// Predictor chains the Normalizer and the Scorer over one artifact pair.
type Predictor struct {
	normalizer *Normalizer
	scorer     *Scorer
	version    string
}

// NewPredictor builds a Predictor from loaded artifacts.
func NewPredictor(a *Artifacts) (*Predictor, error) {
	if a == nil {
		return nil, mismatch("nil artifacts")
	}
	n, err := NewNormalizer(a.Transform)
	if err != nil {
		return nil, err
	}
	s, err := NewScorer(a.Clusters, a.Version)
	if err != nil {
		return nil, err
	}
	return &Predictor{normalizer: n, scorer: s, version: a.Version}, nil
}

// Normalizer returns the underlying normalizer.
func (p *Predictor) Normalizer() *Normalizer { return p.normalizer }

// Scorer returns the underlying scorer.
func (p *Predictor) Scorer() *Scorer { return p.scorer }

// Version returns the model version hash.
func (p *Predictor) Version() string { return p.version }

// Predict normalizes and scores v. The result carries v's raw values as
// display stats and v's account kind.
func (p *Predictor) Predict(v domain.FeatureVector) (*domain.PersonaResult, error) {
	nv, err := p.normalizer.Normalize(v)
	if err != nil {
		return nil, err
	}
	res, err := p.scorer.Score(nv)
	if err != nil {
		return nil, err
	}
	res.Stats = v.Map()
	if v.AccountKind != "" {
		res.AccountKind = v.AccountKind
	}
	return res, nil
}
