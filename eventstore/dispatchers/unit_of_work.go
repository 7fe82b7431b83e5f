package dispatchers

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnitOfWorkNotActive is returned when a committed or rolled back unit of work is used again.
var ErrUnitOfWorkNotActive = errors.New("unit of work is not active")

// UnitOfWork collects commit hooks and runs them in registration order on Commit.
// Rollback discards them. A UnitOfWork is single use.
type UnitOfWork struct {
	mu     sync.Mutex
	active bool
	hooks  []func(ctx context.Context) error
}

func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{active: true}
}

// OnCommit implements CommitHooks.
func (u *UnitOfWork) OnCommit(hook func(ctx context.Context) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.active {
		return ErrUnitOfWorkNotActive
	}

	u.hooks = append(u.hooks, hook)

	return nil
}

// Commit runs all hooks, a failing hook does not stop the following ones. The failures are joined.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()

	if !u.active {
		u.mu.Unlock()
		return ErrUnitOfWorkNotActive
	}

	hooks := u.hooks
	u.hooks = nil
	u.active = false
	u.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit aborted: %w", err)
	}

	var errs []error

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Rollback discards all hooks.
func (u *UnitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.active {
		return ErrUnitOfWorkNotActive
	}

	u.hooks = nil
	u.active = false

	return nil
}

// Pending returns the number of registered hooks.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.hooks)
}

var _ CommitHooks = (*UnitOfWork)(nil)
