package builddata

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apex/log"
)

// Outcome is the result of one reconciliation.
type Outcome int

const (
	// Initialized means no record existed and one was written.
	Initialized Outcome = iota + 1
	// Unchanged means the stored record matched; nothing was written.
	Unchanged
	// InvalidatedAndReset means cached updates were purged and the record rewritten.
	InvalidatedAndReset
)

func (o Outcome) String() string {
	switch o {
	case Initialized:
		return "initialized"
	case Unchanged:
		return "unchanged"
	case InvalidatedAndReset:
		return "invalidated"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Reconciler checks the stored fingerprint of a scope against the live
// configuration and invalidates the update cache when they diverge.
type Reconciler struct {
	store       *Store
	invalidator Invalidator
	log         log.Interface

	mu     sync.Mutex
	scopes map[string]*sync.Mutex
}

// NewReconciler returns a Reconciler. logger may be nil.
func NewReconciler(store *Store, invalidator Invalidator, logger log.Interface) *Reconciler {
	if logger == nil {
		logger = log.Log
	}
	return &Reconciler{
		store:       store,
		invalidator: invalidator,
		log:         logger,
		scopes:      make(map[string]*sync.Mutex),
	}
}

func (r *Reconciler) lock(scopeKey string) func() {
	r.mu.Lock()
	m, ok := r.scopes[scopeKey]
	if !ok {
		m = &sync.Mutex{}
		r.scopes[scopeKey] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Reconcile makes the stored fingerprint for scopeKey match c. Calls for the
// same scope key are serialized; different scope keys run independently.
func (r *Reconciler) Reconcile(ctx context.Context, c Configuration, scopeKey string) (Outcome, error) {
	if scopeKey == "" {
		return 0, ErrMissingScopeKey
	}
	if err := c.Validate(); err != nil {
		return 0, err
	}

	unlock := r.lock(scopeKey)
	defer unlock()

	logger := r.log.WithFields(log.Fields{
		"scope":      scopeKey,
		"record_key": r.store.RecordKey(),
	})

	rec, err := r.store.Load(ctx, scopeKey)
	switch {
	case errors.Is(err, ErrMalformedRecord):
		logger.WithError(err).Warn("stored build data is malformed, treating as inconsistent")
	case err != nil:
		return 0, err
	case rec == nil:
		if err := r.store.Save(ctx, c, scopeKey); err != nil {
			return 0, err
		}
		logger.WithField("outcome", Initialized).Info("stored build data")
		return Initialized, nil
	case Matches(c, rec):
		logger.WithField("outcome", Unchanged).Debug("build data is consistent")
		return Unchanged, nil
	}

	deleted, err := r.invalidator.Invalidate(ctx, scopeKey)
	if err != nil {
		// Saving now would hide the inconsistency from the next run.
		return 0, fmt.Errorf("invalidating updates for %s: %w", scopeKey, err)
	}
	if err := r.store.Save(ctx, c, scopeKey); err != nil {
		return 0, err
	}
	logger.WithFields(log.Fields{
		"outcome": InvalidatedAndReset,
		"deleted": deleted,
	}).Info("build data changed, cleared cached updates")
	return InvalidatedAndReset, nil
}
