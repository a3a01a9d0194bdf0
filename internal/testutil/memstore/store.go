// Package memstore is an in-memory implementation of every repository and
// the transactor, used by service tests in place of Postgres.
//
// Transactions are serialised from their first write or row lock onwards. A
// failing transaction restores the state taken at that point, so tests
// observe the same all-or-nothing behaviour as the real database. Row locks
// never wait: a row held by another transaction is a ConflictError, like
// FOR UPDATE NOWAIT.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/export"
	"github.com/odyssey-erp/audithub/internal/periods"
	"github.com/odyssey-erp/audithub/internal/shared"
	"github.com/odyssey-erp/audithub/internal/signoff"
	"github.com/odyssey-erp/audithub/internal/snapshot"
)

type state struct {
	events       []audittrail.Event
	periods      map[int64]periods.Period
	datasets     map[int64]snapshot.Dataset
	records      map[int64][]snapshot.Record
	signoffs     []signoff.SignOff
	artifacts    []export.Artifact
	nextPeriod   int64
	nextDataset  int64
	nextSignOff  int64
	nextArtifact int64
}

func (s state) clone() state {
	out := s
	out.events = append([]audittrail.Event(nil), s.events...)
	out.signoffs = append([]signoff.SignOff(nil), s.signoffs...)
	out.artifacts = append([]export.Artifact(nil), s.artifacts...)
	out.periods = make(map[int64]periods.Period, len(s.periods))
	for k, v := range s.periods {
		out.periods[k] = v
	}
	out.datasets = make(map[int64]snapshot.Dataset, len(s.datasets))
	for k, v := range s.datasets {
		out.datasets[k] = v
	}
	out.records = make(map[int64][]snapshot.Record, len(s.records))
	for k, v := range s.records {
		out.records[k] = append([]snapshot.Record(nil), v...)
	}
	return out
}

// Store holds all tables.
type Store struct {
	txMu sync.Mutex

	mu       sync.Mutex
	state    state
	failures map[string]error
	rowLocks map[string]*txn
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: state{
			periods:  map[int64]periods.Period{},
			datasets: map[int64]snapshot.Dataset{},
			records:  map[int64][]snapshot.Record{},
		},
		failures: map[string]error{},
		rowLocks: map[string]*txn{},
	}
}

type txKey struct{}

type txn struct {
	mu    sync.Mutex
	held  bool
	saved state
}

func txOf(ctx context.Context) *txn {
	t, _ := ctx.Value(txKey{}).(*txn)
	return t
}

// WithTx implements db.Transactor. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txOf(ctx) != nil {
		return fn(ctx)
	}
	t := &txn{}
	err := fn(context.WithValue(ctx, txKey{}, t))

	s.mu.Lock()
	for key, owner := range s.rowLocks {
		if owner == t {
			delete(s.rowLocks, key)
		}
	}
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held {
		if err != nil {
			s.mu.Lock()
			s.state = t.saved
			s.mu.Unlock()
		}
		s.txMu.Unlock()
	}
	return err
}

// begin serialises t against other writers and records its rollback point.
func (s *Store) begin(t *txn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held {
		return
	}
	s.txMu.Lock()
	s.mu.Lock()
	t.saved = s.state.clone()
	s.mu.Unlock()
	t.held = true
}

// lockRow claims a row for the transaction in ctx without waiting.
func (s *Store) lockRow(ctx context.Context, op, table string, id int64) error {
	t := txOf(ctx)
	if t == nil {
		return nil
	}
	key := table + ":" + strconv.FormatInt(id, 10)
	s.mu.Lock()
	if owner, ok := s.rowLocks[key]; ok && owner != t {
		s.mu.Unlock()
		return shared.E(shared.KindConflict, op, "%s %d is locked by another transaction", table, id)
	}
	s.rowLocks[key] = t
	s.mu.Unlock()
	s.begin(t)
	return nil
}

// write runs a mutation. Outside a transaction it behaves as an implicit
// single-statement transaction.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if t := txOf(ctx); t != nil {
		s.begin(t)
	} else {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// FailNext makes the next call of method fail with err. A key of the form
// "Method:QUALIFIER" only matches calls carrying that qualifier, such as the
// module of a dataset.
func (s *Store) FailNext(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key] = err
}

func (s *Store) fail(method, qualifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qualifier != "" {
		key := method + ":" + qualifier
		if err, ok := s.failures[key]; ok {
			delete(s.failures, key)
			return err
		}
	}
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

// Events returns the committed audit events in append order.
func (s *Store) Events() []audittrail.Event {
	var out []audittrail.Event
	s.read(func(st *state) {
		out = append(out, st.events...)
	})
	return out
}

// Audit returns the audit event repository.
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }

// Snapshots returns the dataset repository.
func (s *Store) Snapshots() *SnapshotRepo { return &SnapshotRepo{s: s} }

// SignOffs returns the sign-off repository.
func (s *Store) SignOffs() *SignOffRepo { return &SignOffRepo{s: s} }

// Periods returns the period repository.
func (s *Store) Periods() *PeriodRepo { return &PeriodRepo{s: s} }

// Exports returns the artifact repository.
func (s *Store) Exports() *ExportRepo { return &ExportRepo{s: s} }

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]T(nil), items[offset:end]...)
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
