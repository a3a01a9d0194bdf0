package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/audithub/internal/snapshot"
)

// Source is a scripted snapshot.Source.
type Source struct {
	mu      sync.Mutex
	batches map[snapshot.Module]snapshot.SourceBatch
	errs    map[snapshot.Module]error
	delays  map[snapshot.Module]time.Duration
}

// NewSource returns a source that yields empty batches.
func NewSource() *Source {
	return &Source{
		batches: map[snapshot.Module]snapshot.SourceBatch{},
		errs:    map[snapshot.Module]error{},
		delays:  map[snapshot.Module]time.Duration{},
	}
}

// Set replaces the rows of a module and derives matching control totals.
func (s *Source) Set(module snapshot.Module, rows ...snapshot.SourceRow) {
	total := decimal.Zero
	for _, row := range rows {
		value, ok := row.Fields[snapshot.AmountField]
		if !ok || value == nil {
			continue
		}
		if amount, err := snapshot.ParseAmount(fmt.Sprint(value)); err == nil {
			total = total.Add(amount)
		}
	}
	s.SetBatch(module, snapshot.SourceBatch{Rows: rows, ControlCount: len(rows), ControlAmount: total})
}

// SetBatch replaces the batch of a module verbatim.
func (s *Source) SetBatch(module snapshot.Module, batch snapshot.SourceBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[module] = batch
}

// Fail makes every fetch of module return err.
func (s *Source) Fail(module snapshot.Module, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[module] = err
}

// Block delays every fetch of module by d, or until ctx ends.
func (s *Source) Block(module snapshot.Module, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[module] = d
}

// Fetch implements snapshot.Source.
func (s *Source) Fetch(ctx context.Context, q snapshot.SourceQuery) (snapshot.SourceBatch, error) {
	s.mu.Lock()
	batch, ok := s.batches[q.Module]
	err := s.errs[q.Module]
	delay := s.delays[q.Module]
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return snapshot.SourceBatch{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return snapshot.SourceBatch{}, fmt.Errorf("fetch %s: %w", q.Module, err)
	}
	if !ok {
		return snapshot.SourceBatch{ControlAmount: decimal.Zero}, nil
	}
	batch.Rows = append([]snapshot.SourceRow(nil), batch.Rows...)
	return batch, nil
}
