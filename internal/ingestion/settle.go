package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Sub-operation names used in outcomes, logs and metrics.
const (
	OpEvent = "event"
	OpPool  = "pool"
	OpUser  = "user"
	OpLP    = "lp"
)

// Op is one independent sub-operation of a reconciliation.
type Op struct {
	Name string
	Run  func(ctx context.Context) error
}

// Outcome is the settled result of one Op.
type Outcome struct {
	Op  string
	Err error

	index int
}

// Settle runs every op concurrently and waits for all of them.
// A failing or panicking op never cancels its siblings. Outcomes are
// returned in the order the ops were given.
func Settle(ctx context.Context, ops ...Op) []Outcome {
	p := pool.NewWithResults[Outcome]()
	for i, op := range ops {
		p.Go(func() Outcome {
			return Outcome{Op: op.Name, Err: runOp(ctx, op), index: i}
		})
	}

	outcomes := p.Wait()
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].index < outcomes[j].index
	})
	return outcomes
}

func runOp(ctx context.Context, op Op) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = op.Run(ctx) })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("%s panicked: %w", op.Name, r.AsError())
	}
	return err
}

// Result collects the outcomes of one reconciled log.
type Result struct {
	Event    string
	Outcomes []Outcome
}

// Outcome returns the outcome of the named op.
func (r Result) Outcome(op string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Op == op {
			return o, true
		}
	}
	return Outcome{}, false
}

// Failed returns the outcomes that ended in an error.
func (r Result) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err joins every failed outcome, or returns nil when all succeeded.
func (r Result) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", o.Op, o.Err))
	}
	return errors.Join(errs...)
}
