// Package checkers holds the fixed set of checkers run against rendered
// sequences after the main driver.
package checkers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vikasavnish/seqfuzz/pkg/config"
	"github.com/vikasavnish/seqfuzz/pkg/fuzzing"
	"github.com/vikasavnish/seqfuzz/pkg/sequences"
)

// Checker probes a rendered sequence for additional bugs.
type Checker interface {
	Name() string
	// Apply may send further requests through fc. Errors other than the
	// run's time budget are fatal.
	Apply(ctx context.Context, rs *sequences.RenderedSequence, fc *fuzzing.Context) error
}

// Reporter records bugs found by the driver and the checkers.
type Reporter interface {
	ReportBug(origin string, rs *sequences.RenderedSequence) error
}

// Deps holds collaborators shared by all checkers.
type Deps struct {
	Reporter    Reporter
	Logger      *slog.Logger
	PayloadBody config.PayloadBodyConfig
}

var registry = map[string]func(Deps) (Checker, error){
	PayloadBodyName: func(d Deps) (Checker, error) { return NewPayloadBodyChecker(d) },
}

// New builds the named checkers in order.
func New(names []string, deps Deps) ([]Checker, error) {
	if deps.Reporter == nil {
		return nil, fmt.Errorf("checkers need a bug reporter")
	}
	out := make([]Checker, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		ctor, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown checker %q", name)
		}
		c, err := ctor(deps)
		if err != nil {
			return nil, fmt.Errorf("checker %s: %w", name, err)
		}
		out = append(out, c)
	}
	return out, nil
}
