package mltune

import (
	"sort"
)

// Engineered feature names derived from raw parameters
const (
	FeatureRSIRange  = "rsi_range"
	FeatureTPSLRatio = "tp_sl_ratio"
)

// featureNames returns the stable column order: raw parameters sorted by
// name, then engineered columns
func featureNames(params []ParamRange) []string {
	names := make([]string, 0, len(params)+2)
	for _, p := range params {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return append(names, FeatureRSIRange, FeatureTPSLRatio)
}

// featureVector encodes one parameter draw as a model row. Engineered
// columns capture interactions a tree would otherwise need depth to find:
// the long RSI window width and the reward-to-risk ratio.
func featureVector(names []string, params map[string]float64) []float64 {
	row := make([]float64, len(names))
	for i, name := range names {
		switch name {
		case FeatureRSIRange:
			row[i] = params["long_rsi_max"] - params["long_rsi_min"]
		case FeatureTPSLRatio:
			if sl := params["sl_atr_multiplier"]; sl != 0 {
				row[i] = params["tp_atr_multiplier"] / sl
			}
		default:
			row[i] = params[name]
		}
	}
	return row
}
