// Package model applies the frozen normalization transform and k-means
// clustering fitted offline.
package model

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/idhash"
)

// Power transform methods.
const (
	MethodYeoJohnson = "yeo-johnson"
	MethodBoxCox     = "box-cox"
)

// DefaultClampFloor replaces non-positive Box-Cox inputs.
const DefaultClampFloor = 1e-9

// TransformFeature holds the fitted parameters of one feature.
type TransformFeature struct {
	Name   string  `yaml:"name"`
	Lambda float64 `yaml:"lambda"`
	Mean   float64 `yaml:"mean"`
	Scale  float64 `yaml:"scale"`
	Shift  float64 `yaml:"shift"`
}

// TransformArtifact is the fitted power transform.
type TransformArtifact struct {
	SchemaVersion string `yaml:"schema_version"`
	Method        string `yaml:"method"`
	// Standardize defaults to true, as in the fitting library.
	Standardize *bool              `yaml:"standardize"`
	ClampFloor  float64            `yaml:"clamp_floor"`
	Features    []TransformFeature `yaml:"features"`
}

// Cluster is one centroid and its persona label.
type Cluster struct {
	Persona  string    `yaml:"persona"`
	Centroid []float64 `yaml:"centroid"`
}

// ClusterArtifact is the fitted k-means model. Cluster i is model label i.
type ClusterArtifact struct {
	SchemaVersion string    `yaml:"schema_version"`
	FeatureNames  []string  `yaml:"feature_names"`
	Temperature   float64   `yaml:"temperature"`
	Clusters      []Cluster `yaml:"clusters"`
}

// Artifacts is the validated model pair plus its content version.
type Artifacts struct {
	Transform *TransformArtifact
	Clusters  *ClusterArtifact
	Version   string
}

// LoadArtifacts reads and validates both artifact files.
func LoadArtifacts(transformPath, clusterPath string) (*Artifacts, error) {
	transformData, err := os.ReadFile(transformPath)
	if err != nil {
		return nil, fmt.Errorf("read transform artifact: %w", err)
	}
	clusterData, err := os.ReadFile(clusterPath)
	if err != nil {
		return nil, fmt.Errorf("read cluster artifact: %w", err)
	}
	return ParseArtifacts(transformData, clusterData)
}

// ParseArtifacts decodes and validates both artifacts. Both must declare
// exactly domain.FeatureNames in order and domain.FeatureSchemaVersion.
func ParseArtifacts(transformData, clusterData []byte) (*Artifacts, error) {
	var t TransformArtifact
	if err := decodeStrict(transformData, &t); err != nil {
		return nil, domain.NewError(domain.KindModelArtifactMismatch, "decode transform artifact", err)
	}
	var c ClusterArtifact
	if err := decodeStrict(clusterData, &c); err != nil {
		return nil, domain.NewError(domain.KindModelArtifactMismatch, "decode cluster artifact", err)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &Artifacts{
		Transform: &t,
		Clusters:  &c,
		Version:   idhash.ComputeModelVersion(transformData, clusterData),
	}, nil
}

func decodeStrict(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func mismatch(format string, args ...interface{}) error {
	return domain.NewError(domain.KindModelArtifactMismatch, fmt.Sprintf(format, args...), nil)
}

// Validate checks the transform against the canonical feature contract and
// fills defaults.
func (t *TransformArtifact) Validate() error {
	if t.SchemaVersion != domain.FeatureSchemaVersion {
		return mismatch("transform schema %q, want %q", t.SchemaVersion, domain.FeatureSchemaVersion)
	}
	switch t.Method {
	case MethodYeoJohnson, MethodBoxCox:
	default:
		return mismatch("unknown transform method %q", t.Method)
	}
	if len(t.Features) != len(domain.FeatureNames) {
		return mismatch("transform has %d features, want %d", len(t.Features), len(domain.FeatureNames))
	}
	for i, f := range t.Features {
		if f.Name != domain.FeatureNames[i] {
			return mismatch("transform feature %d is %q, want %q", i, f.Name, domain.FeatureNames[i])
		}
		for _, v := range []float64{f.Lambda, f.Mean, f.Scale, f.Shift} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return mismatch("transform feature %q has non-finite parameter", f.Name)
			}
		}
	}
	if t.Standardize == nil {
		on := true
		t.Standardize = &on
	}
	if t.ClampFloor <= 0 {
		t.ClampFloor = DefaultClampFloor
	}
	return nil
}

// Validate checks the clusters against the canonical feature contract and
// fills defaults.
func (c *ClusterArtifact) Validate() error {
	if c.SchemaVersion != domain.FeatureSchemaVersion {
		return mismatch("cluster schema %q, want %q", c.SchemaVersion, domain.FeatureSchemaVersion)
	}
	if len(c.FeatureNames) != len(domain.FeatureNames) {
		return mismatch("clusters declare %d features, want %d", len(c.FeatureNames), len(domain.FeatureNames))
	}
	for i, name := range c.FeatureNames {
		if name != domain.FeatureNames[i] {
			return mismatch("cluster feature %d is %q, want %q", i, name, domain.FeatureNames[i])
		}
	}
	if len(c.Clusters) == 0 {
		return mismatch("no clusters")
	}

	seen := make(map[string]bool, len(c.Clusters))
	for i, cl := range c.Clusters {
		if cl.Persona == "" {
			return mismatch("cluster %d has no persona", i)
		}
		if seen[cl.Persona] {
			return mismatch("duplicate persona %q", cl.Persona)
		}
		seen[cl.Persona] = true
		if len(cl.Centroid) != len(c.FeatureNames) {
			return mismatch("cluster %d centroid has %d values, want %d", i, len(cl.Centroid), len(c.FeatureNames))
		}
		for _, v := range cl.Centroid {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return mismatch("cluster %d centroid is not finite", i)
			}
		}
	}

	if c.Temperature == 0 {
		c.Temperature = 1
	}
	if c.Temperature < 0 || math.IsNaN(c.Temperature) || math.IsInf(c.Temperature, 0) {
		return mismatch("temperature must be positive, got %v", c.Temperature)
	}
	return nil
}
