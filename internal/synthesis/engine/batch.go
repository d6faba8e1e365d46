package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

type Request struct {
	Spec    content.GenerationSpec
	Context content.ProgressionContext
}

type BatchResult struct {
	Index  int
	Result *content.SynthesisResult
	Err    error
}

// SynthesizeBatch runs independent requests with at most MaxConcurrent in flight. Results keep
// request order, and one failure does not cancel the others.
func (e *Engine) SynthesizeBatch(ctx context.Context, reqs []Request) []BatchResult {
	out := make([]BatchResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(e.maxConcurrent)
	for i, r := range reqs {
		g.Go(func() error {
			res, err := e.Synthesize(ctx, r.Spec, r.Context)
			out[i] = BatchResult{Index: i, Err: err}
			if err == nil {
				out[i].Result = &res
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
