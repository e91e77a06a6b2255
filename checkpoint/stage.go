/*
stage.go - Stage resolution and transition rules

PURPOSE:
  Answers "what stage is this ticket at", "what may happen next" and
  "is this operation allowed now" from a ticket and its ledger entries.
  Every function here is pure: no store, no clock, no logging.

STAGE SEQUENCES (fixed, not configurable):
  Inbound:   GWT -> QCT -> TWT   (loaded truck: gross first, tare after unloading)
  Outbound:  TWT -> QCT -> GWT   (empty truck: tare first, gross after loading)

  The first code of each sequence is the "weighment-complete" stage.

RULES:
  - A code may appear at most once per ticket.
  - A code may only be recorded when it is the next one in the sequence.
  - Quality check needs the weighment-complete entry and no QCT entry.
  - Weigh-out needs WeighInAt set and WeighOutAt unset.

SEE ALSO:
  - ledger.go: calls CheckTransition inside the store transaction
  - service.go: calls CheckQualityCheck / CheckWeighOut
*/
package checkpoint

import "sort"

var sequences = map[Direction][]StageCode{
	Inbound:  {StageGrossWeight, StageQualityCheck, StageTareWeight},
	Outbound: {StageTareWeight, StageQualityCheck, StageGrossWeight},
}

// Sequence returns the ordered stages for a direction.
func Sequence(d Direction) []StageCode {
	return append([]StageCode(nil), sequences[d]...)
}

// WeighmentStage is the code recorded when the first weighment completes:
// GWT for inbound, TWT for outbound.
func WeighmentStage(d Direction) StageCode {
	if d == Inbound {
		return StageGrossWeight
	}
	return StageTareWeight
}

// SortEntries orders entries by (At, Seq) in place.
func SortEntries(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Before(entries[j]) })
}

// CurrentStage returns the code of the most recent entry, or
// StageNotStarted when there are none.
func CurrentStage(entries []LedgerEntry) StageCode {
	if len(entries) == 0 {
		return StageNotStarted
	}
	latest := entries[0]
	for _, e := range entries[1:] {
		if latest.Before(e) {
			latest = e
		}
	}
	return latest.Code
}

// HasStage reports whether any entry carries code.
func HasStage(entries []LedgerEntry, code StageCode) bool {
	return countStage(entries, code) > 0
}

func countStage(entries []LedgerEntry, code StageCode) int {
	n := 0
	for _, e := range entries {
		if e.Code == code {
			n++
		}
	}
	return n
}

// NextStage returns the next expected code for the direction. The bool
// is false once the sequence is complete.
func NextStage(d Direction, entries []LedgerEntry) (StageCode, bool) {
	for _, code := range sequences[d] {
		if !HasStage(entries, code) {
			return code, true
		}
	}
	return StageNotStarted, false
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// CheckTransition validates appending code to the ticket's ledger.
func CheckTransition(t Ticket, entries []LedgerEntry, code StageCode) error {
	violation := func(reason string) error {
		return &StageViolationError{
			TicketNo:  t.No,
			Requested: code,
			Current:   CurrentStage(entries),
			Reason:    reason,
		}
	}

	if !code.Known() {
		return violation("unknown stage code")
	}
	if !t.Direction.Valid() {
		return violation("ticket has no direction")
	}
	if HasStage(entries, code) {
		return violation("stage already recorded")
	}

	next, ok := NextStage(t.Direction, entries)
	if !ok {
		return violation("all stages already recorded")
	}
	if next != code {
		return violation("expected " + string(next) + " next")
	}
	return nil
}

// =============================================================================
// OPERATION ELIGIBILITY
// =============================================================================

// CheckQualityCheck returns nil iff exactly one weighment-complete entry
// exists and no QCT entry exists yet.
func CheckQualityCheck(t Ticket, entries []LedgerEntry) error {
	reason := ""
	switch n := countStage(entries, WeighmentStage(t.Direction)); {
	case n == 0:
		reason = "weighment not done yet"
	case n > 1:
		reason = "weighment recorded more than once"
	case HasStage(entries, StageQualityCheck):
		reason = "quality already recorded"
	default:
		return nil
	}
	return &StageViolationError{
		TicketNo:  t.No,
		Requested: StageQualityCheck,
		Current:   CurrentStage(entries),
		Reason:    reason,
	}
}

func EligibleForQualityCheck(t Ticket, entries []LedgerEntry) bool {
	return CheckQualityCheck(t, entries) == nil
}

// CheckWeighOut returns nil iff the vehicle weighed in and has not yet
// weighed out.
func CheckWeighOut(t Ticket) error {
	reason := ""
	switch {
	case t.WeighInAt == nil:
		reason = "vehicle has not weighed in"
	case t.WeighOutAt != nil:
		reason = "vehicle already weighed out"
	default:
		return nil
	}
	return &StageViolationError{TicketNo: t.No, Reason: reason}
}

func EligibleForWeighOut(t Ticket) bool {
	return CheckWeighOut(t) == nil
}
