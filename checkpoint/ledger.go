/*
ledger.go - Append-only stage log with its current-status pointer

PURPOSE:
  The ledger is the source of truth for "has stage X happened". Every
  stage a ticket reaches is one immutable entry. The current-status row
  is a denormalized copy of the latest code, kept for fast dashboard
  filtering.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted.
  2. LOCKSTEP: an entry for stage S and the pointer write of S commit in
     the same transaction, or neither does.
  3. ORDER: an entry is only appended when CheckTransition allows it, so a
     stage appears at most once and never out of sequence.
  4. AUTHORITY: when pointer and ledger disagree, the ledger wins
     (see Reconcile).

TIMESTAMPS:
  Entry timestamps are truncated to whole minutes. Entries that share a
  minute are ordered by the store-assigned Seq. A timestamp earlier than
  the latest entry is refused so the pointer always equals the latest
  entry by time.

EXAMPLE FLOW (inbound ticket 1001):
  AppendStage(1001, GWT)  ledger: [GWT]        pointer: GWT
  AppendStage(1001, QCT)  ledger: [GWT, QCT]   pointer: QCT
  AppendStage(1001, QCT)  -> StageViolationError, nothing written

SEE ALSO:
  - stage.go: CheckTransition
  - store.go: Tx.AppendEntry / Tx.SetCurrentStatus
*/
package checkpoint

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger interface {
	// AppendStage records that the ticket reached code. This is the ONLY
	// write path for stages.
	AppendStage(ctx context.Context, no TicketNo, code StageCode, actorID string, at time.Time) (LedgerEntry, error)

	// LatestStage folds over the ledger. StageNotStarted when empty.
	LatestStage(ctx context.Context, no TicketNo) (StageCode, error)

	// Entries returns the ticket's ledger in order. Read-only.
	Entries(ctx context.Context, no TicketNo) ([]LedgerEntry, error)
}

type DefaultLedger struct {
	Store TxStore
	Log   *zap.Logger
}

func NewLedger(store TxStore, log *zap.Logger) *DefaultLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &DefaultLedger{Store: store, Log: log}
}

func (l *DefaultLedger) AppendStage(ctx context.Context, no TicketNo, code StageCode, actorID string, at time.Time) (LedgerEntry, error) {
	var appended LedgerEntry
	err := l.inTicketTx(ctx, no, func(tx Tx, t Ticket) error {
		var err error
		appended, err = appendStage(ctx, tx, t, code, actorID, at)
		return err
	})
	if err != nil {
		return LedgerEntry{}, persistence("append stage", err)
	}

	l.Log.Info("stage recorded",
		zap.Int64("ticket_no", int64(no)),
		zap.String("stage", string(code)),
		zap.String("actor", actorID),
	)
	return appended, nil
}

// inTicketTx requires a caller owning the ticket and runs fn with the
// ticket locked. Tickets of another site or company read as missing.
func (l *DefaultLedger) inTicketTx(ctx context.Context, no TicketNo, fn func(Tx, Ticket) error) error {
	caller, err := CallerFrom(ctx)
	if err != nil {
		return err
	}
	return l.Store.WithTx(ctx, func(tx Tx) error {
		t, err := tx.LockTicket(ctx, no)
		if err != nil {
			return err
		}
		if !caller.owns(t) {
			return NotFound("ticket", no)
		}
		return fn(tx, t)
	})
}

// appendStage validates and writes one stage inside an open transaction.
// The caller must already hold the ticket lock.
func appendStage(ctx context.Context, tx Tx, t Ticket, code StageCode, actorID string, at time.Time) (LedgerEntry, error) {
	if strings.TrimSpace(actorID) == "" {
		return LedgerEntry{}, invalidArgument("actor id is required")
	}

	entries, err := tx.Entries(ctx, t.No)
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := CheckTransition(t, entries, code); err != nil {
		return LedgerEntry{}, err
	}

	at = Minute(at)
	for _, e := range entries {
		if at.Before(e.At) {
			return LedgerEntry{}, invalidArgument("timestamp %s precedes stage %s at %s",
				at.Format(time.RFC3339), e.Code, e.At.Format(time.RFC3339))
		}
	}

	entry, err := tx.AppendEntry(ctx, LedgerEntry{
		ID:       uuid.NewString(),
		TicketNo: t.No,
		Code:     code,
		ActorID:  actorID,
		At:       at,
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := tx.SetCurrentStatus(ctx, t.No, code); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

func (l *DefaultLedger) LatestStage(ctx context.Context, no TicketNo) (StageCode, error) {
	entries, err := l.Entries(ctx, no)
	if err != nil {
		return StageNotStarted, err
	}
	return CurrentStage(entries), nil
}

func (l *DefaultLedger) Entries(ctx context.Context, no TicketNo) ([]LedgerEntry, error) {
	if _, err := l.Store.Ticket(ctx, no); err != nil {
		return nil, persistence("load ticket", err)
	}
	entries, err := l.Store.Entries(ctx, no)
	if err != nil {
		return nil, persistence("load ledger", err)
	}
	SortEntries(entries)
	return entries, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconcile checks the pointer against the ledger and rewrites the
// pointer from the ledger when they differ. Returns the ledger's stage
// and whether a repair happened.
func (l *DefaultLedger) Reconcile(ctx context.Context, no TicketNo) (StageCode, bool, error) {
	var (
		stage    StageCode
		repaired bool
		pointer  StageCode
	)
	err := l.inTicketTx(ctx, no, func(tx Tx, _ Ticket) error {
		entries, err := tx.Entries(ctx, no)
		if err != nil {
			return err
		}
		stage = CurrentStage(entries)

		var ok bool
		pointer, ok, err = tx.CurrentStatus(ctx, no)
		if err != nil {
			return err
		}
		if stage == StageNotStarted || (ok && pointer == stage) {
			return nil
		}
		repaired = true
		return tx.SetCurrentStatus(ctx, no, stage)
	})
	if err != nil {
		return StageNotStarted, false, persistence("reconcile status", err)
	}

	if repaired {
		l.Log.Warn("current status diverged from ledger, rewritten",
			zap.Int64("ticket_no", int64(no)),
			zap.String("pointer", string(pointer)),
			zap.String("ledger", string(stage)),
		)
	}
	return stage, repaired, nil
}
