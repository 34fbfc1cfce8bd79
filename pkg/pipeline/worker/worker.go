package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type Options struct {
	// RequestTimeout bounds each processor call. Set to <=0 to wait indefinitely.
	RequestTimeout time.Duration

	// RateLimitRPS paces processor calls. Set to <=0 to disable.
	RateLimitRPS float64
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Index  int
	Input  In
	Output Out
}

// ItemError reports which item stopped the run.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// ProcessSequential runs the processor over items one at a time, in order.
//
// The first processor error aborts the run: no further items are processed and
// no results are returned. There are no retries.
func ProcessSequential[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessSequentialWithCallback(ctx, items, processor, nil, opts)
}

// ProcessSequentialWithCallback is ProcessSequential with onResult invoked after
// each successful item. A callback error aborts the run like a processor error.
func ProcessSequentialWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	out := make([]Result[In, Out], 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		res, err := processOne(ctx, item, processor, opts.RequestTimeout)
		if err != nil {
			return nil, &ItemError{Index: i, Err: err}
		}
		r := Result[In, Out]{Index: i, Input: item, Output: res}
		if onResult != nil {
			if err := onResult(r); err != nil {
				return nil, &ItemError{Index: i, Err: err}
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func processOne[In any, Out any](
	ctx context.Context,
	item In,
	processor func(context.Context, In) (Out, error),
	timeout time.Duration,
) (Out, error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return processor(reqCtx, item)
}
