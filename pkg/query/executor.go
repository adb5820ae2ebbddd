// pkg/query/executor.go
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domquery/pkg/driver"
	"github.com/xkilldash9x/domquery/pkg/selector"
)

// compileFor compiles spec for a root or element scope.
func compileFor(scope driver.NodeID, spec selector.Spec) (*selector.Compiled, error) {
	s := selector.ScopeRoot
	if !scope.IsRoot() {
		s = selector.ScopeElement
	}
	return selector.Compile(s, spec)
}

// find compiles spec for scope and runs it, retrying empty results within
// the session wait budget when wait is set.
func (d *Document) find(ctx context.Context, scope driver.NodeID, spec selector.Spec, wait bool) ([]driver.NodeID, error) {
	compiled, err := compileFor(scope, spec)
	if err != nil {
		return nil, err
	}
	run := func() ([]driver.NodeID, error) {
		return d.attempt(ctx, scope, compiled)
	}
	if !wait {
		return run()
	}
	return d.retry(ctx, compiled, run)
}

// retry calls run until it returns a non-empty result or the wait budget
// elapses. The last attempt is returned as is, and one attempt is always
// made at the deadline.
func (d *Document) retry(ctx context.Context, query fmt.Stringer, run func() ([]driver.NodeID, error)) ([]driver.NodeID, error) {
	ids, err := run()
	if err != nil || len(ids) > 0 || d.wait <= 0 {
		return ids, err
	}

	deadline := time.Now().Add(d.wait)
	attempts := 1
	for len(ids) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		sleep := d.poll
		if remaining < sleep {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("wait for %s interrupted: %w", query, ctx.Err())
		case <-timer.C:
		}

		attempts++
		ids, err = run()
		if err != nil {
			return nil, err
		}
	}
	d.logger.Debug("Waited for query.",
		zap.Stringer("query", query),
		zap.Int("attempts", attempts),
		zap.Int("found", len(ids)))
	return ids, nil
}

// attempt runs one locator round trip and the residual predicates.
func (d *Document) attempt(ctx context.Context, scope driver.NodeID, compiled *selector.Compiled) ([]driver.NodeID, error) {
	candidates, err := d.drv.FindAll(ctx, scope, compiled.Locator)
	if err != nil {
		// A stale scope is fatal; transport errors pass through unmodified.
		return nil, err
	}
	ids, err := d.applyResidual(ctx, candidates, compiled.Residual)
	if err != nil {
		return nil, err
	}
	if ce := d.logger.Check(zap.DebugLevel, "Query executed."); ce != nil {
		ce.Write(
			zap.Stringer("scope", scope),
			zap.Stringer("query", compiled),
			zap.Int("candidates", len(candidates)),
			zap.Int("matched", len(ids)))
	}
	return ids, nil
}

// applyResidual keeps the candidates passing every predicate, in order.
// A candidate that went stale does not match.
func (d *Document) applyResidual(ctx context.Context, candidates []driver.NodeID, preds []selector.Predicate) ([]driver.NodeID, error) {
	if len(preds) == 0 {
		return candidates, nil
	}
	kept := make([]driver.NodeID, 0, len(candidates))
	for _, id := range candidates {
		ok, err := d.passes(ctx, id, preds)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, id)
		}
	}
	return kept, nil
}

func (d *Document) passes(ctx context.Context, id driver.NodeID, preds []selector.Predicate) (bool, error) {
	for _, pred := range preds {
		ok, err := pred.Test(ctx, d.drv, id)
		if err != nil {
			if errors.Is(err, driver.ErrStaleElement) {
				d.logger.Debug("Candidate went stale during filtering.", zap.Stringer("node", id), zap.String("predicate", pred.Name))
				return false, nil
			}
			return false, fmt.Errorf("predicate %s: %w", pred.Name, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// match returns the members satisfying spec, in member order. It never waits.
func (d *Document) match(ctx context.Context, members []driver.NodeID, spec selector.Spec) ([]driver.NodeID, error) {
	compiled, err := selector.CompileMatch(spec)
	if err != nil {
		return nil, err
	}
	if compiled.MatchesAll() && len(compiled.Residual) == 0 {
		return members, nil
	}

	kept := make([]driver.NodeID, 0, len(members))
	for _, id := range members {
		if !compiled.MatchesAll() {
			ok, err := d.drv.Matches(ctx, id, compiled.Locator)
			if err != nil {
				if errors.Is(err, driver.ErrStaleElement) {
					continue
				}
				return nil, err
			}
			if !ok {
				continue
			}
		}
		ok, err := d.passes(ctx, id, compiled.Residual)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, id)
		}
	}
	return kept, nil
}
