// Package matrix expands a job template's axes into concrete combinations.
// Expansion is row-major over the axes in declaration order, so a job
// instance's ordinal identity is stable across runs.
package matrix

import (
	"strings"

	"github.com/vk/conveyorgo/internal/config"
)

// Combination is one cell of the expanded matrix.
type Combination struct {
	// Ordinal is the row-major index of this combination.
	Ordinal int
	// Values maps each axis name to the value selected for this cell.
	Values map[string]string
	// Key is the slash-joined axis values in declaration order, used for
	// log and artifact naming. Empty for a job without a matrix.
	Key string
}

// Expand produces the Cartesian product of the given axes. A job without
// axes expands to exactly one empty combination. An axis with no values is
// a configuration error, not an empty product that silently drops the job.
func Expand(jobName string, axes []*config.MatrixAxis) ([]Combination, error) {
	for _, axis := range axes {
		if len(axis.Values) == 0 {
			return nil, config.Errorf("matrix axis %q of job %q has no values", axis.Name, jobName)
		}
	}

	if len(axes) == 0 {
		return []Combination{{Ordinal: 0, Values: map[string]string{}}}, nil
	}

	total := 1
	for _, axis := range axes {
		total *= len(axis.Values)
	}

	combos := make([]Combination, 0, total)
	indices := make([]int, len(axes))
	for ordinal := 0; ordinal < total; ordinal++ {
		values := make(map[string]string, len(axes))
		parts := make([]string, len(axes))
		for i, axis := range axes {
			values[axis.Name] = axis.Values[indices[i]]
			parts[i] = axis.Values[indices[i]]
		}
		combos = append(combos, Combination{
			Ordinal: ordinal,
			Values:  values,
			Key:     strings.Join(parts, "/"),
		})

		// Advance the last axis fastest: row-major order.
		for i := len(indices) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(axes[i].Values) {
				break
			}
			indices[i] = 0
		}
	}
	return combos, nil
}
