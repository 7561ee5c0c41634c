// Package memory is an in-process balance publisher used in tests and local
// development, when no spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"condominio/internal/core"
	ports "condominio/internal/sheets"
)

type Store struct {
	mu        sync.Mutex
	published map[int64]*core.BalanceSheet
}

var _ ports.BalancePublisher = (*Store)(nil)

func New() *Store {
	return &Store{published: make(map[int64]*core.BalanceSheet)}
}

// PublishBalanceSheet stores the sheet keyed by period id, replacing any
// earlier export of the same period.
func (s *Store) PublishBalanceSheet(_ context.Context, period core.Period, sheet *core.BalanceSheet) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[period.ID] = sheet
	return fmt.Sprintf("mem:%d", period.ID), nil
}

// Published returns the last exported sheet for a period, if any.
func (s *Store) Published(periodID int64) (*core.BalanceSheet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.published[periodID]
	return sheet, ok
}
