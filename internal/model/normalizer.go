package model

import (
	"fmt"
	"math"

	"github.com/nice-bills/chain-segment/internal/domain"
)

// lambdaEps matches the fitting library's test for a zero lambda.
const lambdaEps = 2.220446049250313e-16

// Normalizer applies a frozen TransformArtifact. Safe for concurrent use.
type Normalizer struct {
	art *TransformArtifact
}

// NewNormalizer validates art and wraps it.
func NewNormalizer(art *TransformArtifact) (*Normalizer, error) {
	if art == nil {
		return nil, mismatch("nil transform artifact")
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{art: art}, nil
}

// Normalize applies x+shift, the power transform, then (y-mean)/scale per
// feature. A zero scale is treated as 1.
func (n *Normalizer) Normalize(v domain.FeatureVector) (domain.NormalizedVector, error) {
	feats := n.art.Features
	if len(v.Values) != len(feats) || len(v.Names) != len(v.Values) {
		return domain.NormalizedVector{}, mismatch("feature vector has %d values and %d names, transform expects %d",
			len(v.Values), len(v.Names), len(feats))
	}

	out := domain.NormalizedVector{
		Names:  make([]string, len(feats)),
		Values: make([]float64, len(feats)),
	}
	for i, f := range feats {
		if v.Names[i] != f.Name {
			return domain.NormalizedVector{}, mismatch("feature %d is %q, transform expects %q", i, v.Names[i], f.Name)
		}
		x := v.Values[i]
		if !isFinite(x) {
			return domain.NormalizedVector{}, normErr("input %q is not finite", f.Name)
		}

		y := n.transform(x+f.Shift, f.Lambda)
		if *n.art.Standardize {
			scale := f.Scale
			if scale == 0 {
				scale = 1
			}
			y = (y - f.Mean) / scale
		}
		if !isFinite(y) {
			return domain.NormalizedVector{}, normErr("output for %q is not finite (input %v)", f.Name, x)
		}

		out.Names[i] = f.Name
		out.Values[i] = y
	}
	return out, nil
}

func (n *Normalizer) transform(x, lambda float64) float64 {
	if n.art.Method == MethodBoxCox {
		if x <= 0 {
			x = n.art.ClampFloor
		}
		return boxCox(x, lambda)
	}
	return yeoJohnson(x, lambda)
}

func yeoJohnson(x, lambda float64) float64 {
	if x >= 0 {
		if math.Abs(lambda) < lambdaEps {
			return math.Log1p(x)
		}
		return (math.Pow(x+1, lambda) - 1) / lambda
	}
	if math.Abs(lambda-2) < lambdaEps {
		return -math.Log1p(-x)
	}
	return -(math.Pow(-x+1, 2-lambda) - 1) / (2 - lambda)
}

func boxCox(x, lambda float64) float64 {
	if math.Abs(lambda) < lambdaEps {
		return math.Log(x)
	}
	return (math.Pow(x, lambda) - 1) / lambda
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func normErr(format string, args ...interface{}) error {
	return domain.NewError(domain.KindNormalizationError, fmt.Sprintf(format, args...), nil)
}
