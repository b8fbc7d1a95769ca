// Package registry is the authoritative store of option records and the per-account
// position index
package registry

import (
	"context"
	"fmt"
	"sync"

	"options_ledger/internal/core"
	"options_ledger/internal/option"
	apperrors "options_ledger/pkg/errors"
)

// Registry allocates option ids and holds every record ever written.
//
// Mutations persist to the store first and only then replace the in-memory copy, so a
// failed write leaves memory untouched. Records are never deleted.
type Registry struct {
	mu        sync.RWMutex
	store     core.IOptionStore
	options   []*option.Option // index is the id
	positions map[string][]uint64
	logger    core.ILogger
}

// New creates an empty registry. A nil store keeps records in memory only.
func New(store core.IOptionStore, logger core.ILogger) *Registry {
	return &Registry{
		store:     store,
		positions: make(map[string][]uint64),
		logger:    logger.WithField("component", "registry"),
	}
}

// Restore replaces the in-memory state with what the store holds
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	opts, err := r.store.LoadOptions(ctx)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	for i, opt := range opts {
		if opt.ID != uint64(i) {
			return fmt.Errorf("restore: expected option id %d, found %d", i, opt.ID)
		}
		if err := opt.CheckInvariants(); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	positions, err := r.store.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	r.mu.Lock()
	r.options = opts
	r.positions = positions
	r.mu.Unlock()

	r.logger.Info("Registry restored", "options", len(opts), "accounts", len(positions))
	return nil
}

// Create assigns the next id to opt, persists it and appends it to the writer's positions
func (r *Registry) Create(ctx context.Context, opt *option.Option) (uint64, error) {
	if opt.IsUnused() {
		return 0, fmt.Errorf("%w: option has no writer", apperrors.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := opt.Clone()
	rec.ID = uint64(len(r.options))

	if r.store != nil {
		if err := r.store.CommitOption(ctx, rec, rec.Writer); err != nil {
			return 0, fmt.Errorf("persist option %d: %w", rec.ID, err)
		}
	}

	r.options = append(r.options, rec)
	r.positions[rec.Writer] = append(r.positions[rec.Writer], rec.ID)
	return rec.ID, nil
}

// Get returns a copy of the record for id
func (r *Registry) Get(id uint64) (*option.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	opt := r.lookup(id)
	if opt == nil {
		return nil, fmt.Errorf("%w: id %d", apperrors.ErrNotFound, id)
	}
	return opt.Clone(), nil
}

// Exists reports whether id names a written option
func (r *Registry) Exists(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(id) != nil
}

func (r *Registry) lookup(id uint64) *option.Option {
	if id >= uint64(len(r.options)) {
		return nil
	}
	opt := r.options[id]
	if opt.IsUnused() {
		return nil
	}
	return opt
}

// Commit persists a mutated record and, when appendPositionFor is set, a new position for
// that account. The in-memory record is swapped only after the store accepts the change.
func (r *Registry) Commit(ctx context.Context, opt *option.Option, appendPositionFor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lookup(opt.ID) == nil {
		return fmt.Errorf("%w: id %d", apperrors.ErrNotFound, opt.ID)
	}

	rec := opt.Clone()
	if r.store != nil {
		if err := r.store.CommitOption(ctx, rec, appendPositionFor); err != nil {
			return fmt.Errorf("persist option %d: %w", rec.ID, err)
		}
	}

	r.options[rec.ID] = rec
	if appendPositionFor != "" {
		r.positions[appendPositionFor] = append(r.positions[appendPositionFor], rec.ID)
	}
	return nil
}

// Positions returns the ids account has written or bought, in append order
func (r *Registry) Positions(account string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uint64{}, r.positions[account]...)
}

// Options returns copies of every record ordered by id
func (r *Registry) Options() []*option.Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*option.Option, 0, len(r.options))
	for _, opt := range r.options {
		out = append(out, opt.Clone())
	}
	return out
}

// Count is the number of ids allocated so far
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.options)
}

// StateCounts tallies records per lifecycle state
func (r *Registry) StateCounts() map[string]int64 {
	counts := map[string]int64{
		option.StateOpen.String():      0,
		option.StateBought.String():    0,
		option.StateExercised.String(): 0,
		option.StateCancelled.String(): 0,
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, opt := range r.options {
		counts[opt.State.String()]++
	}
	return counts
}
