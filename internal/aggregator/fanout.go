package aggregator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/aggregw/internal/observability"
)

// Result is the settled outcome of one branch: exactly one of Value or Err
// is meaningful.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the branch succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Branch is one concurrent sub-call of an aggregate request.
type Branch[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// FanOut starts every branch at once and waits for all of them to settle.
// A failing or panicking branch never cancels its siblings. Results are
// returned in branch order.
func FanOut[T any](ctx context.Context, tracer *observability.Tracer, branches ...Branch[T]) []Result[T] {
	results := make([]Result[T], len(branches))

	var g errgroup.Group
	for i, b := range branches {
		g.Go(func() error {
			results[i] = runBranch(ctx, tracer, b)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func runBranch[T any](ctx context.Context, tracer *observability.Tracer, b Branch[T]) (res Result[T]) {
	ctx, span := tracer.StartSpan(ctx, "aggregate "+b.Name)
	span.SetAttributes(attribute.String("aggregate.branch", b.Name))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			res = Result[T]{Err: fmt.Errorf("branch %s panicked: %v", b.Name, p)}
		}
		if res.Err != nil {
			observability.MarkFailed(span, res.Err, "branch failed")
		}
	}()

	v, err := b.Run(ctx)
	return Result[T]{Value: v, Err: err}
}
