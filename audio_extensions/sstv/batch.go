package sstv

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of decoding one signal in a batch
type BatchResult struct {
	Frame *DecodedFrame
	Err   error
}

// DecodeAll decodes independent recordings in parallel. Per-signal failures
// are reported in the results; the returned error is set only when ctx is
// cancelled.
func DecodeAll(ctx context.Context, cfg Config, signals []AudioSignal) ([]BatchResult, error) {
	results := make([]BatchResult, len(signals))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, sig := range signals {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			frame, err := DecodeSignal(egCtx, cfg, sig)
			results[i] = BatchResult{Frame: frame, Err: err}
			return egCtx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
