// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package race

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/internal/backoff"
	"github.com/pdiddy/citesearch/internal/httputil"
	"github.com/pdiddy/citesearch/internal/search"
	"github.com/pdiddy/citesearch/pkg/types"
)

// Guard wraps provider calls. No provider error or panic escapes it; each
// call becomes a RaceOutcome and a backoff update.
type Guard struct {
	coord  *backoff.Coordinator
	logger *zap.Logger
	now    func() time.Time
}

// NewGuard returns a guard recording into coord.
func NewGuard(coord *backoff.Coordinator, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{coord: coord, logger: logger.Named("guard"), now: time.Now}
}

// Call runs a live search. When localBudget is set the deadline of ctx is a
// share of the race budget rather than the provider timeout, and expiring it
// counts as a local await miss instead of a provider timeout.
func (g *Guard) Call(ctx context.Context, p search.Provider, query string, topK int, localBudget bool) (out types.RaceOutcome) {
	name := p.Name()
	start := g.now()
	out.Provider = name

	defer func() {
		if r := recover(); r != nil {
			out.Snippets = nil
			out.Count = 0
			out.Status = types.StatusFailed
			out.Cause = "panic"
			out.Err = fmt.Sprint(r)
			g.coord.RecordFailure(name, backoff.KindTransport, "panic", out.Err)
			g.logger.Error("provider panicked", zap.String("provider", name), zap.Any("panic", r))
		}
		out.Elapsed = g.now().Sub(start)
	}()

	snippets, err := p.Search(ctx, query, topK)
	if err == nil {
		out.Snippets = snippets
		out.Count = len(snippets)
		out.Status = types.StatusOK
		if len(snippets) == 0 {
			out.Status = types.StatusEmpty
		}
		g.coord.RecordSuccess(name)
		return out
	}

	out.Err = err.Error()
	g.classify(ctx, name, err, localBudget, &out)
	return out
}

func (g *Guard) classify(ctx context.Context, name string, err error, localBudget bool, out *types.RaceOutcome) {
	if rl, ok := httputil.AsRateLimit(err); ok {
		out.Status = types.StatusRateLimited
		out.Cause = fmt.Sprintf("HTTP %d", rl.Status)
		g.coord.RecordRateLimited(name, rl.RetryAfter, out.Cause, rl.Raw)
		return
	}
	if le, ok := search.IsLocalLimit(err); ok {
		out.Status = types.StatusLocalThrottled
		out.Cause = "min interval"
		g.coord.RecordLocalRateLimit(name, le.Wait, out.Cause)
		return
	}
	if isTimeout(err) {
		if localBudget && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.Status = types.StatusAwaitTimeout
			out.Cause = "sync budget share expired"
			g.coord.RecordFailure(name, backoff.KindAwaitTimeout, out.Cause, out.Err)
			return
		}
		out.Status = types.StatusTimeout
		out.Cause = "deadline exceeded"
		g.coord.RecordFailure(name, backoff.KindTimeout, out.Cause, out.Err)
		return
	}
	if errors.Is(err, context.Canceled) {
		out.Status = types.StatusCancelled
		out.Cause = "provider cancelled"
		g.coord.RecordFailure(name, backoff.KindCancelled, out.Cause, out.Err)
		return
	}
	out.Status = types.StatusFailed
	out.Cause = "transport failure"
	g.coord.RecordFailure(name, backoff.KindTransport, out.Cause, out.Err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// CallCached runs a cache-only search. It never records backoff state.
func (g *Guard) CallCached(ctx context.Context, p search.Provider, query string, topK int) (out types.RaceOutcome) {
	start := g.now()
	out.Provider = p.Name()
	defer func() {
		if r := recover(); r != nil {
			out.Snippets = nil
			out.Count = 0
			out.Status = types.StatusFailed
			out.Cause = "panic"
			out.Err = fmt.Sprint(r)
			g.logger.Error("cached lookup panicked", zap.String("provider", out.Provider), zap.Any("panic", r))
		}
		out.Elapsed = g.now().Sub(start)
	}()

	snippets, ok, err := p.SearchCached(ctx, query, topK)
	switch {
	case err != nil:
		out.Status = types.StatusFailed
		out.Cause = "cache error"
		out.Err = err.Error()
	case !ok:
		out.Status = types.StatusEmpty
		out.Cause = "cache miss"
	default:
		out.Snippets = snippets
		out.Count = len(snippets)
		out.Status = types.StatusOK
		if len(snippets) == 0 {
			out.Status = types.StatusEmpty
		}
	}
	return out
}
