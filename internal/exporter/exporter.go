// Package exporter renders a study's best parameters for consumption
// by shell scripts and downstream training configs.
package exporter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ashita-ai/tansaku/internal/study"
)

// Best returns the best trial's parameters, normalized to their
// declared kinds.
func Best(ctx context.Context, st *study.Study) (map[string]any, error) {
	trial, err := st.Best(ctx)
	if err != nil {
		return nil, err
	}
	return trial.Params, nil
}

// Format renders parameters as one key=value pair per line, sorted by
// key so the output is stable across runs.
func Format(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v\n", k, params[k])
	}
	return b.String()
}
