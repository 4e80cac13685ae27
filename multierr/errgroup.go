package multierr

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ErrGroup wraps an errgroup.Group but collects all errors instead of only
// the first.
type ErrGroup struct {
	*errgroup.Group
	err Errors
}

// NewErrGroup returns a new ErrGroup and a derived context that is cancelled
// when the first function returns an error or Wait returns.
func NewErrGroup(ctx context.Context) (*ErrGroup, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	return &ErrGroup{Group: g}, ctx
}

// Wait blocks until all functions have returned and returns the collected
// errors.
func (g *ErrGroup) Wait() *Errors {
	_ = g.Group.Wait()
	return &g.err
}

// Go calls f in a new goroutine.
func (g *ErrGroup) Go(f func() error) {
	g.Group.Go(func() error {
		if err := f(); err != nil {
			g.err.Collect(err)
			return err
		}
		return nil
	})
}
