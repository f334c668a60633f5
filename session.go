package mongolite

import (
	"context"
	"sync"
	"time"

	"github.com/mongolite/mongolite/errors"
)

type txState int

const (
	txNone txState = iota
	txInProgress
	txCommitted
	txAborted
)

const defaultTxMaxAttempts = 120

// TransactionOptions configures transaction retry behavior
type TransactionOptions struct {
	// IsTransient classifies an error as retryable. When nil, no error is
	// retried.
	IsTransient func(error) bool
	// RetryDelay is the fixed delay between retry attempts
	RetryDelay time.Duration
	// MaxAttempts caps the number of attempts (default 120)
	MaxAttempts int
}

type collectionSnapshot struct {
	coll *Collection
	rows map[string][]byte
}

// Session owns at most one transaction at a time. Transactions roll back by
// restoring a whole-collection byte snapshot taken at the collection's first
// write inside the transaction.
type Session struct {
	db *Database

	mu        sync.Mutex
	state     txState
	ended     bool
	opts      TransactionOptions
	snapshots map[string]*collectionSnapshot
}

// StartTransaction begins a transaction on the session
func (s *Session) StartTransaction(opts ...*TransactionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.New(errors.TxState, "session has ended")
	}
	if s.state == txInProgress {
		return errors.New(errors.TxState, "transaction already in progress")
	}
	s.opts = TransactionOptions{MaxAttempts: defaultTxMaxAttempts}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.IsTransient != nil {
			s.opts.IsTransient = opt.IsTransient
		}
		if opt.RetryDelay > 0 {
			s.opts.RetryDelay = opt.RetryDelay
		}
		if opt.MaxAttempts > 0 {
			s.opts.MaxAttempts = opt.MaxAttempts
		}
	}
	s.state = txInProgress
	s.snapshots = map[string]*collectionSnapshot{}
	return nil
}

// ensureSnapshot captures the collection's full contents exactly once per
// transaction, before its first write. Outside a transaction it is a no-op.
func (s *Session) ensureSnapshot(ctx context.Context, c *Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != txInProgress {
		return nil
	}
	if _, ok := s.snapshots[c.name]; ok {
		return nil
	}
	rows := map[string][]byte{}
	err := c.store.Scan(ctx, func(id string, value []byte) (bool, error) {
		bits := make([]byte, len(value))
		copy(bits, value)
		rows[id] = bits
		return true, nil
	})
	if err != nil {
		return errors.Wrap(err, errors.Internal, "failed to snapshot collection: %s", c.name)
	}
	s.snapshots[c.name] = &collectionSnapshot{coll: c, rows: rows}
	return nil
}

// CommitTransaction makes the transaction's writes permanent and discards
// its snapshots
func (s *Session) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != txInProgress {
		return errors.New(errors.TxState, "no transaction in progress")
	}
	s.snapshots = nil
	s.state = txCommitted
	return nil
}

// AbortTransaction restores every touched collection to its pre-transaction
// snapshot
func (s *Session) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != txInProgress {
		return errors.New(errors.TxState, "no transaction in progress")
	}
	for _, snapshot := range s.snapshots {
		if err := snapshot.restore(ctx); err != nil {
			return err
		}
	}
	s.snapshots = nil
	s.state = txAborted
	return nil
}

func (snap *collectionSnapshot) restore(ctx context.Context) error {
	if err := snap.coll.store.Clear(ctx); err != nil {
		return errors.Wrap(err, errors.Internal, "failed to restore collection: %s", snap.coll.name)
	}
	for id, bits := range snap.rows {
		if err := snap.coll.store.Put(ctx, id, bits); err != nil {
			return errors.Wrap(err, errors.Internal, "failed to restore collection: %s", snap.coll.name)
		}
	}
	return nil
}

// WithTransaction runs fn inside a transaction, committing on success and
// aborting on failure. Errors the options classify as transient are retried
// with a fixed delay until the attempt budget runs out; all other errors
// propagate after a best-effort abort.
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error), opts ...*TransactionOptions) (any, error) {
	attempts := defaultTxMaxAttempts
	for _, opt := range opts {
		if opt != nil && opt.MaxAttempts > 0 {
			attempts = opt.MaxAttempts
		}
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := s.StartTransaction(opts...); err != nil {
			return nil, err
		}
		result, err := fn(WithSession(ctx, s))
		if err == nil {
			if err := s.CommitTransaction(ctx); err != nil {
				return nil, err
			}
			return result, nil
		}
		if abortErr := s.AbortTransaction(ctx); abortErr != nil {
			s.db.logger.Warn(ctx, "failed to abort transaction", map[string]any{"error": abortErr.Error()})
		}
		lastErr = err
		s.mu.Lock()
		transient := s.opts.IsTransient != nil && s.opts.IsTransient(err)
		delay := s.opts.RetryDelay
		s.mu.Unlock()
		if !transient {
			return nil, err
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

// EndSession aborts any in-progress transaction and permanently retires the
// session. Ending is idempotent.
func (s *Session) EndSession(ctx context.Context) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	active := s.state == txInProgress
	s.mu.Unlock()
	if active {
		if err := s.AbortTransaction(ctx); err != nil {
			s.db.logger.Warn(ctx, "failed to abort transaction", map[string]any{"error": err.Error()})
		}
	}
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

// InTransaction reports whether a transaction is currently in progress
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == txInProgress
}
