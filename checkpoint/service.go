/*
service.go - Checkpoint operations driven by the gate, weighbridge and quality desks

PURPOSE:
  Each method is one user action. It reads the caller from the context,
  opens one store transaction, locks the ticket, re-derives the stage from
  the ledger and only then writes. Two concurrent submissions for the same
  ticket are serialized by the lock; the second sees the first's entry and
  fails with a StageViolationError.

OPERATIONS:
  OpenTicket        gate entry, WeighInAt = now
  RecordWeighment   appends the next weighing stage (GWT/TWT)
  SubmitQuality     quality record + QCT, one transaction
  PassQuality       QCT without measurements
  RecordWeighOut    sets WeighOutAt exactly once

  All of them refuse with ErrSessionExpired when the context carries no
  caller, and report a ticket of another site/company as not found.

SEE ALSO:
  - ledger.go:  appendStage, the single stage write path
  - quality.go: Compiler
*/
package checkpoint

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Service struct {
	Store    TxStore
	Catalog  Catalog
	Compiler *Compiler
	Log      *zap.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func NewService(store TxStore, catalog Catalog, compiler *Compiler, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Store: store, Catalog: catalog, Compiler: compiler, Log: log, Now: time.Now}
}

// OpenTicket records a vehicle at the gate and returns the new ticket.
func (s *Service) OpenTicket(ctx context.Context, in GateEntry) (Ticket, error) {
	caller, err := CallerFrom(ctx)
	if err != nil {
		return Ticket{}, err
	}
	if !in.Direction.Valid() {
		return Ticket{}, invalidArgument("unknown direction %q", in.Direction)
	}
	if in.Direction == Inbound && in.SupplierID == 0 {
		return Ticket{}, invalidArgument("inbound ticket needs a supplier")
	}
	if in.Direction == Outbound && in.CustomerID == 0 {
		return Ticket{}, invalidArgument("outbound ticket needs a customer")
	}
	if in.VehicleID == 0 {
		return Ticket{}, invalidArgument("vehicle is required")
	}
	if err := s.checkReferences(ctx, in); err != nil {
		return Ticket{}, persistence("open ticket", err)
	}

	now := Minute(s.Now())
	t := Ticket{
		Direction:     in.Direction,
		SiteID:        caller.SiteID,
		CompanyID:     caller.CompanyID,
		MaterialID:    in.MaterialID,
		MaterialType:  in.MaterialType,
		TransporterID: in.TransporterID,
		VehicleID:     in.VehicleID,
		TPNo:          in.TPNo,
		PONo:          in.PONo,
		ChallanNo:     in.ChallanNo,
		WeighInAt:     &now,
		TransactionDate: time.Date(now.Year(), now.Month(), now.Day(),
			0, 0, 0, 0, now.Location()),
	}
	// Only the counterparty matching the direction is kept.
	if in.Direction == Inbound {
		t.SupplierID = in.SupplierID
	} else {
		t.CustomerID = in.CustomerID
	}

	err = s.Store.WithTx(ctx, func(tx Tx) error {
		created, err := tx.CreateTicket(ctx, t)
		t = created
		return err
	})
	if err != nil {
		return Ticket{}, persistence("open ticket", err)
	}

	s.Log.Info("ticket opened",
		zap.Int64("ticket_no", int64(t.No)),
		zap.String("direction", string(t.Direction)),
		zap.String("actor", caller.ActorID),
	)
	return t, nil
}

// RecordWeighment appends the next weighing stage. It fails with a
// StageViolationError when the next stage is not a weighment.
func (s *Service) RecordWeighment(ctx context.Context, no TicketNo) (LedgerEntry, error) {
	var appended LedgerEntry
	err := s.inTicketTx(ctx, no, func(tx Tx, caller Caller, t Ticket) error {
		entries, err := tx.Entries(ctx, no)
		if err != nil {
			return err
		}
		next, ok := NextStage(t.Direction, entries)
		if !ok || next == StageQualityCheck {
			code := WeighmentStage(t.Direction)
			if ok {
				code = StageNotStarted
			}
			return &StageViolationError{
				TicketNo:  no,
				Requested: code,
				Current:   CurrentStage(entries),
				Reason:    "no weighment due",
			}
		}
		appended, err = appendStage(ctx, tx, t, next, caller.ActorID, s.Now())
		return err
	})
	if err != nil {
		return LedgerEntry{}, persistence("record weighment", err)
	}
	s.Log.Info("weighment recorded",
		zap.Int64("ticket_no", int64(no)),
		zap.String("stage", string(appended.Code)),
	)
	return appended, nil
}

// SubmitQuality stores the quality record and appends QCT in one
// transaction.
//
// The record is compiled before the transaction opens: catalog lookups
// must not run on a connection the transaction holds. Eligibility is
// checked on both sides; only the check under the ticket lock counts.
func (s *Service) SubmitQuality(ctx context.Context, no TicketNo, ms Measurements) (QualityRecord, error) {
	caller, err := CallerFrom(ctx)
	if err != nil {
		return QualityRecord{}, err
	}
	t, err := s.Store.Ticket(ctx, no)
	if err != nil {
		return QualityRecord{}, persistence("load ticket", err)
	}
	if !caller.owns(t) {
		return QualityRecord{}, NotFound("ticket", no)
	}
	entries, err := s.Store.Entries(ctx, no)
	if err != nil {
		return QualityRecord{}, persistence("load ledger", err)
	}
	if err := CheckQualityCheck(t, entries); err != nil {
		return QualityRecord{}, err
	}
	rec, err := s.Compiler.Compile(ctx, t, ms)
	if err != nil {
		return QualityRecord{}, persistence("compile quality record", err)
	}

	err = s.inTicketTx(ctx, no, func(tx Tx, caller Caller, t Ticket) error {
		entries, err := tx.Entries(ctx, no)
		if err != nil {
			return err
		}
		if err := CheckQualityCheck(t, entries); err != nil {
			return err
		}
		if err := tx.SaveQualityRecord(ctx, rec); err != nil {
			return err
		}
		_, err = appendStage(ctx, tx, t, StageQualityCheck, caller.ActorID, s.Now())
		return err
	})
	if err != nil {
		return QualityRecord{}, persistence("submit quality", err)
	}
	s.Log.Info("quality recorded",
		zap.Int64("ticket_no", int64(no)),
		zap.Int("parameters", len(rec.Entries)),
	)
	return rec, nil
}

// PassQuality marks the quality check done without measurements.
func (s *Service) PassQuality(ctx context.Context, no TicketNo) (LedgerEntry, error) {
	var appended LedgerEntry
	err := s.inTicketTx(ctx, no, func(tx Tx, caller Caller, t Ticket) error {
		entries, err := tx.Entries(ctx, no)
		if err != nil {
			return err
		}
		if err := CheckQualityCheck(t, entries); err != nil {
			return err
		}
		appended, err = appendStage(ctx, tx, t, StageQualityCheck, caller.ActorID, s.Now())
		return err
	})
	if err != nil {
		return LedgerEntry{}, persistence("pass quality", err)
	}
	return appended, nil
}

// RecordWeighOut closes the vehicle's visit.
func (s *Service) RecordWeighOut(ctx context.Context, no TicketNo) (Ticket, error) {
	var out Ticket
	err := s.inTicketTx(ctx, no, func(tx Tx, _ Caller, t Ticket) error {
		if err := CheckWeighOut(t); err != nil {
			return err
		}
		at := Minute(s.Now())
		if err := tx.SetWeighOut(ctx, no, at); err != nil {
			return err
		}
		t.WeighOutAt = &at
		out = t
		return nil
	})
	if err != nil {
		return Ticket{}, persistence("record weigh-out", err)
	}
	return out, nil
}

// checkReferences verifies the catalog rows a gate entry points at.
func (s *Service) checkReferences(ctx context.Context, in GateEntry) error {
	if _, err := s.Catalog.Vehicle(ctx, in.VehicleID); err != nil {
		return err
	}
	if in.Direction == Inbound {
		if _, err := s.Catalog.Supplier(ctx, in.SupplierID); err != nil {
			return err
		}
		if _, err := s.Catalog.Material(ctx, in.MaterialID); err != nil {
			return err
		}
	} else {
		if _, err := s.Catalog.Customer(ctx, in.CustomerID); err != nil {
			return err
		}
		if _, err := s.Catalog.Product(ctx, in.MaterialID); err != nil {
			return err
		}
	}
	if in.TransporterID != 0 {
		if _, err := s.Catalog.Transporter(ctx, in.TransporterID); err != nil {
			return err
		}
	}
	return nil
}

// inTicketTx resolves the caller, opens a transaction and locks the
// ticket before handing over to fn.
func (s *Service) inTicketTx(ctx context.Context, no TicketNo, fn func(Tx, Caller, Ticket) error) error {
	caller, err := CallerFrom(ctx)
	if err != nil {
		return err
	}
	return s.Store.WithTx(ctx, func(tx Tx) error {
		t, err := tx.LockTicket(ctx, no)
		if err != nil {
			return err
		}
		if !caller.owns(t) {
			return NotFound("ticket", no)
		}
		return fn(tx, caller, t)
	})
}
