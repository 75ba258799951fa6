package pipeline

import (
	"time"

	"github.com/obfusk8/obfusk8/pkg/types"
)

// Report describes what the pipeline did to one region
type Report struct {
	Region     string             `json:"region" yaml:"region"`
	Pos        string             `json:"pos" yaml:"pos"`
	Profile    string             `json:"profile" yaml:"profile"`
	LabelStart uint64             `json:"label_start" yaml:"label_start"`
	LabelEnd   uint64             `json:"label_end" yaml:"label_end"`
	Strings    int                `json:"strings" yaml:"strings"`
	Passes     []types.PassResult `json:"passes" yaml:"passes"`
	Elapsed    time.Duration      `json:"elapsed_ns" yaml:"elapsed_ns"`
}

// Pass returns the result of the named pass, if it ran
func (r *Report) Pass(name string) (types.PassResult, bool) {
	for _, p := range r.Passes {
		if p.Name == name {
			return p, true
		}
	}
	return types.PassResult{}, false
}

// Applied reports whether the named pass ran and transformed every eligible
// site of the region
func (r *Report) Applied(name string) bool {
	p, ok := r.Pass(name)
	return ok && p.Status == types.Applied
}

// Degradations returns every construct any pass left untransformed
func (r *Report) Degradations() []types.Degradation {
	var out []types.Degradation
	for _, p := range r.Passes {
		out = append(out, p.Degradations...)
	}
	return out
}
