package domain

// PersonaResult is the terminal payload of a completed job.
type PersonaResult struct {
	ClusterIndex int                `json:"cluster_index"`
	Persona      string             `json:"persona"`
	Confidences  map[string]float64 `json:"confidences"` // persona → [0,1], sums to 1
	Stats        map[string]float64 `json:"stats"`       // raw feature values for display
	AccountKind  AccountKind        `json:"account_kind"`
	ModelVersion string             `json:"model_version"`
	Explanation  string             `json:"explanation,omitempty"`
}

// Clone returns a deep copy.
func (r *PersonaResult) Clone() *PersonaResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Confidences = make(map[string]float64, len(r.Confidences))
	for k, v := range r.Confidences {
		c.Confidences[k] = v
	}
	c.Stats = make(map[string]float64, len(r.Stats))
	for k, v := range r.Stats {
		c.Stats[k] = v
	}
	return &c
}
