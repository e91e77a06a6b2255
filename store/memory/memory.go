// Package memory provides in-memory Store and Catalog implementations.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/weighbridge/checkpoint"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu      sync.RWMutex
	tickets map[checkpoint.TicketNo]checkpoint.Ticket
	entries map[checkpoint.TicketNo][]checkpoint.LedgerEntry
	status  map[checkpoint.TicketNo]checkpoint.StageCode
	quality map[checkpoint.TicketNo]qualityRow
	nextNo  checkpoint.TicketNo
	nextSeq int64
}

// qualityRow holds a record in its persisted two-string form.
type qualityRow struct {
	ids    string
	values string
}

func NewStore() *Store {
	return &Store{
		tickets: make(map[checkpoint.TicketNo]checkpoint.Ticket),
		entries: make(map[checkpoint.TicketNo][]checkpoint.LedgerEntry),
		status:  make(map[checkpoint.TicketNo]checkpoint.StageCode),
		quality: make(map[checkpoint.TicketNo]qualityRow),
		nextNo:  1,
		nextSeq: 1,
	}
}

// ===== READ SIDE =====

func (m *Store) Ticket(_ context.Context, no checkpoint.TicketNo) (checkpoint.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ticketLocked(no)
}

func (m *Store) ListTickets(_ context.Context, f checkpoint.TicketFilter) ([]checkpoint.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(f), nil
}

func (m *Store) CountTickets(_ context.Context, f checkpoint.TicketFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listLocked(f)), nil
}

func (m *Store) Entries(_ context.Context, no checkpoint.TicketNo) ([]checkpoint.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(no), nil
}

func (m *Store) CurrentStatus(_ context.Context, no checkpoint.TicketNo) (checkpoint.StageCode, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.status[no]
	return code, ok, nil
}

func (m *Store) QualityRecord(_ context.Context, no checkpoint.TicketNo) (checkpoint.QualityRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.qualityLocked(no)
}

func (m *Store) ticketLocked(no checkpoint.TicketNo) (checkpoint.Ticket, error) {
	t, ok := m.tickets[no]
	if !ok {
		return checkpoint.Ticket{}, checkpoint.NotFound("ticket", no)
	}
	return t, nil
}

func (m *Store) entriesLocked(no checkpoint.TicketNo) []checkpoint.LedgerEntry {
	result := make([]checkpoint.LedgerEntry, len(m.entries[no]))
	copy(result, m.entries[no])
	return result
}

func (m *Store) qualityLocked(no checkpoint.TicketNo) (checkpoint.QualityRecord, bool, error) {
	row, ok := m.quality[no]
	if !ok {
		return checkpoint.QualityRecord{}, false, nil
	}
	rec, err := checkpoint.DecodeQualityRecord(no, row.ids, row.values)
	if err != nil {
		return checkpoint.QualityRecord{}, false, err
	}
	return rec, true, nil
}

func (m *Store) listLocked(f checkpoint.TicketFilter) []checkpoint.Ticket {
	var result []checkpoint.Ticket
	for _, t := range m.tickets {
		if m.matches(f, t) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TransactionDate.Equal(result[j].TransactionDate) {
			return result[i].TransactionDate.Before(result[j].TransactionDate)
		}
		return result[i].No < result[j].No
	})
	return result
}

func (m *Store) matches(f checkpoint.TicketFilter, t checkpoint.Ticket) bool {
	if f.SiteID != "" && t.SiteID != f.SiteID {
		return false
	}
	if f.CompanyID != "" && t.CompanyID != f.CompanyID {
		return false
	}
	if f.Direction != "" && t.Direction != f.Direction {
		return false
	}
	if len(f.CurrentStatus) > 0 {
		code, ok := m.status[t.No]
		if !ok || !containsCode(f.CurrentStatus, code) {
			return false
		}
	}
	if f.VehicleID != 0 && t.VehicleID != f.VehicleID {
		return false
	}
	if f.SupplierIDs != nil && !containsID(f.SupplierIDs, t.SupplierID) {
		return false
	}
	if f.CustomerIDs != nil && !containsID(f.CustomerIDs, t.CustomerID) {
		return false
	}
	if f.TransactionDate != nil && !sameDay(*f.TransactionDate, t.TransactionDate) {
		return false
	}
	if f.OnlyInside && t.WeighOutAt != nil {
		return false
	}
	return true
}

func containsCode(codes []checkpoint.StageCode, c checkpoint.StageCode) bool {
	for _, x := range codes {
		if x == c {
			return true
		}
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store this is a store-wide lock plus snapshot rollback,
// so LockTicket needs no lock of its own.
func (m *Store) WithTx(_ context.Context, fn func(checkpoint.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	tickets map[checkpoint.TicketNo]checkpoint.Ticket
	entries map[checkpoint.TicketNo][]checkpoint.LedgerEntry
	status  map[checkpoint.TicketNo]checkpoint.StageCode
	quality map[checkpoint.TicketNo]qualityRow
	nextNo  checkpoint.TicketNo
	nextSeq int64
}

func (m *Store) snapshot() memorySnapshot {
	s := memorySnapshot{
		tickets: make(map[checkpoint.TicketNo]checkpoint.Ticket, len(m.tickets)),
		entries: make(map[checkpoint.TicketNo][]checkpoint.LedgerEntry, len(m.entries)),
		status:  make(map[checkpoint.TicketNo]checkpoint.StageCode, len(m.status)),
		quality: make(map[checkpoint.TicketNo]qualityRow, len(m.quality)),
		nextNo:  m.nextNo,
		nextSeq: m.nextSeq,
	}
	for k, v := range m.tickets {
		s.tickets[k] = v
	}
	for k, v := range m.entries {
		s.entries[k] = append([]checkpoint.LedgerEntry{}, v...)
	}
	for k, v := range m.status {
		s.status[k] = v
	}
	for k, v := range m.quality {
		s.quality[k] = v
	}
	return s
}

func (m *Store) restore(s memorySnapshot) {
	m.tickets = s.tickets
	m.entries = s.entries
	m.status = s.status
	m.quality = s.quality
	m.nextNo = s.nextNo
	m.nextSeq = s.nextSeq
}

// txView reads and writes the parent directly; WithTx holds the lock.
type txView struct {
	parent *Store
}

func (tv *txView) Ticket(_ context.Context, no checkpoint.TicketNo) (checkpoint.Ticket, error) {
	return tv.parent.ticketLocked(no)
}

func (tv *txView) ListTickets(_ context.Context, f checkpoint.TicketFilter) ([]checkpoint.Ticket, error) {
	return tv.parent.listLocked(f), nil
}

func (tv *txView) CountTickets(_ context.Context, f checkpoint.TicketFilter) (int, error) {
	return len(tv.parent.listLocked(f)), nil
}

func (tv *txView) Entries(_ context.Context, no checkpoint.TicketNo) ([]checkpoint.LedgerEntry, error) {
	return tv.parent.entriesLocked(no), nil
}

func (tv *txView) CurrentStatus(_ context.Context, no checkpoint.TicketNo) (checkpoint.StageCode, bool, error) {
	code, ok := tv.parent.status[no]
	return code, ok, nil
}

func (tv *txView) QualityRecord(_ context.Context, no checkpoint.TicketNo) (checkpoint.QualityRecord, bool, error) {
	return tv.parent.qualityLocked(no)
}

func (tv *txView) LockTicket(_ context.Context, no checkpoint.TicketNo) (checkpoint.Ticket, error) {
	return tv.parent.ticketLocked(no)
}

// CreateTicket assigns the next number unless t.No is already set
// (tickets carried over from another system keep their number).
func (tv *txView) CreateTicket(_ context.Context, t checkpoint.Ticket) (checkpoint.Ticket, error) {
	p := tv.parent
	if t.No == 0 {
		t.No = p.nextNo
	}
	if _, exists := p.tickets[t.No]; exists {
		return checkpoint.Ticket{}, &checkpoint.StageViolationError{
			TicketNo: t.No,
			Reason:   "ticket number already used",
		}
	}
	if t.No >= p.nextNo {
		p.nextNo = t.No + 1
	}
	p.tickets[t.No] = t
	return t, nil
}

func (tv *txView) AppendEntry(_ context.Context, e checkpoint.LedgerEntry) (checkpoint.LedgerEntry, error) {
	p := tv.parent
	if _, ok := p.tickets[e.TicketNo]; !ok {
		return checkpoint.LedgerEntry{}, checkpoint.NotFound("ticket", e.TicketNo)
	}
	for _, existing := range p.entries[e.TicketNo] {
		if existing.Code == e.Code {
			return checkpoint.LedgerEntry{}, &checkpoint.StageViolationError{
				TicketNo:  e.TicketNo,
				Requested: e.Code,
				Current:   checkpoint.CurrentStage(p.entries[e.TicketNo]),
				Reason:    "stage already recorded",
			}
		}
	}

	e.Seq = p.nextSeq
	p.nextSeq++

	txs := p.entries[e.TicketNo]
	i := sort.Search(len(txs), func(i int) bool { return e.Before(txs[i]) })
	txs = append(txs, checkpoint.LedgerEntry{})
	copy(txs[i+1:], txs[i:])
	txs[i] = e
	p.entries[e.TicketNo] = txs
	return e, nil
}

func (tv *txView) SetCurrentStatus(_ context.Context, no checkpoint.TicketNo, code checkpoint.StageCode) error {
	tv.parent.status[no] = code
	return nil
}

func (tv *txView) SaveQualityRecord(_ context.Context, r checkpoint.QualityRecord) error {
	p := tv.parent
	if _, exists := p.quality[r.TicketNo]; exists {
		return &checkpoint.StageViolationError{
			TicketNo:  r.TicketNo,
			Requested: checkpoint.StageQualityCheck,
			Reason:    "quality already recorded",
		}
	}
	ids, values := r.Encode()
	p.quality[r.TicketNo] = qualityRow{ids: ids, values: values}
	return nil
}

func (tv *txView) SetWeighOut(_ context.Context, no checkpoint.TicketNo, at time.Time) error {
	t, err := tv.parent.ticketLocked(no)
	if err != nil {
		return err
	}
	if t.WeighOutAt != nil {
		return &checkpoint.StageViolationError{TicketNo: no, Reason: "vehicle already weighed out"}
	}
	t.WeighOutAt = &at
	tv.parent.tickets[no] = t
	return nil
}

// ===== TEST HOOKS =====

// ForceStatus overwrites the current-status pointer without touching the
// ledger. Used to exercise reconciliation.
func (m *Store) ForceStatus(no checkpoint.TicketNo, code checkpoint.StageCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[no] = code
}

// PutRawQuality stores quality strings as-is, bypassing the codec.
func (m *Store) PutRawQuality(no checkpoint.TicketNo, ids, values string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quality[no] = qualityRow{ids: ids, values: values}
}
