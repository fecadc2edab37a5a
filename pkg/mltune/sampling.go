// Package mltune fits a surrogate model over backtested parameter samples
// and uses it to predict promising strategy configurations.
package mltune

import (
	"fmt"
	"math"
	"math/rand"
)

// ParamRange describes one tunable parameter
type ParamRange struct {
	Name    string    `json:"name"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Integer bool      `json:"integer,omitempty"`
	Values  []float64 `json:"values,omitempty"` // discrete overrides Min/Max
}

func (p ParamRange) validate() error {
	if len(p.Values) > 0 {
		return nil
	}
	if p.Max <= p.Min {
		return fmt.Errorf("parameter %s: max must exceed min", p.Name)
	}
	return nil
}

// sample maps a unit-interval coordinate onto the parameter's range
func (p ParamRange) sample(u float64) float64 {
	if len(p.Values) > 0 {
		idx := int(u * float64(len(p.Values)))
		if idx >= len(p.Values) {
			idx = len(p.Values) - 1
		}
		return p.Values[idx]
	}
	v := p.Min + u*(p.Max-p.Min)
	if p.Integer {
		v = math.Round(v)
	}
	return v
}

// latinHypercube draws n points stratified per dimension: each parameter's
// range is cut into n slices and every slice is visited exactly once, in a
// shuffled order per dimension.
func latinHypercube(params []ParamRange, n int, rng *rand.Rand) []map[string]float64 {
	out := make([]map[string]float64, n)
	for i := range out {
		out[i] = make(map[string]float64, len(params))
	}

	for _, p := range params {
		perm := rng.Perm(n)
		for i := 0; i < n; i++ {
			u := (float64(perm[i]) + rng.Float64()) / float64(n)
			out[i][p.Name] = p.sample(u)
		}
	}
	return out
}
