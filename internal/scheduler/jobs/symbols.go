// Package jobs holds the scheduled maintenance jobs of the exit engine.
package jobs

import (
	"context"
	"sort"
)

// SymbolSource lists the symbols that currently have live positions
type SymbolSource interface {
	Symbols(ctx context.Context) ([]string, error)
}

// watchedSymbols merges live symbols with a static watch list, sorted and deduplicated
func watchedSymbols(ctx context.Context, src SymbolSource, watch []string) ([]string, error) {
	seen := make(map[string]bool, len(watch))
	for _, s := range watch {
		seen[s] = true
	}

	if src != nil {
		live, err := src.Symbols(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range live {
			seen[s] = true
		}
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
