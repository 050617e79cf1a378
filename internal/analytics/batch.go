package analytics

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/social-insights/internal/apperror"
)

const (
	DefaultFirstBatch = 5
	DefaultStagger    = 2 * time.Second
)

type BatchOptions struct {
	// FirstBatch is how many posts, from the front of the list, are fetched
	// eagerly. The rest are served from cache only.
	FirstBatch int
	// Stagger is the fixed delay between dispatches.
	Stagger time.Duration
}

type BatchResult struct {
	Results []Result `json:"results"`
	// Fetched counts posts handled in the eager window.
	Fetched int `json:"fetched"`
	// Stopped is set when a 429 or a rejected token ended eager fetching.
	Stopped bool `json:"stopped"`
}

// FetchBatch walks postIDs, newest first. The first FirstBatch posts are
// dispatched one at a time through a limiter that admits one network call
// per Stagger; posts answered from a fresh cache entry skip the limiter.
// The calls are serial to stay under provider ceilings.
func (f *Fetcher) FetchBatch(ctx context.Context, accountID string, postIDs []string, opts BatchOptions) (BatchResult, error) {
	if opts.FirstBatch <= 0 {
		opts.FirstBatch = DefaultFirstBatch
	}
	if opts.Stagger <= 0 {
		opts.Stagger = DefaultStagger
	}

	acc, ok := f.accounts.Get(accountID)
	if !ok {
		return BatchResult{}, apperror.NotFound("account", accountID)
	}

	limiter := rate.NewLimiter(rate.Every(opts.Stagger), 1)
	out := BatchResult{Results: make([]Result, 0, len(postIDs))}

	for i, postID := range postIDs {
		if i >= opts.FirstBatch || out.Stopped {
			res, err := f.Cached(ctx, accountID, postID)
			if err != nil {
				return out, err
			}
			out.Results = append(out.Results, res)
			continue
		}

		// A renewal during an earlier post replaced the stored account.
		if cur, ok := f.accounts.Get(accountID); ok {
			acc = cur
		}
		res, oc, err := f.fetch(ctx, acc, postID, limiter)
		if err != nil {
			return out, err
		}
		out.Results = append(out.Results, res)
		out.Fetched++

		switch oc {
		case outcomeRateLimited, outcomeReconnect:
			out.Stopped = true
			f.logger.Info("analytics: batch stopped early",
				slog.String("accountID", accountID),
				slog.Int("dispatched", out.Fetched),
				slog.Int("remaining", len(postIDs)-i-1),
			)
		}
	}
	return out, nil
}
