package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

func entry(seq int64, code StageCode, at time.Time) LedgerEntry {
	return LedgerEntry{Seq: seq, TicketNo: 1, Code: code, ActorID: "op", At: at}
}

func inboundTicket() Ticket {
	at := t0
	return Ticket{No: 1, Direction: Inbound, WeighInAt: &at}
}

func outboundTicket() Ticket {
	at := t0
	return Ticket{No: 1, Direction: Outbound, WeighInAt: &at}
}

// =============================================================================
// CURRENT STAGE
// =============================================================================

func TestCurrentStage_Empty(t *testing.T) {
	assert.Equal(t, StageNotStarted, CurrentStage(nil))
	assert.Equal(t, "not-started", CurrentStage(nil).String())
}

func TestCurrentStage_LatestByTimeThenSeq(t *testing.T) {
	// GIVEN: Entries out of order, two sharing a minute
	// WHEN: Resolving the current stage
	// THEN: The latest by (At, Seq) wins regardless of slice order

	entries := []LedgerEntry{
		entry(3, StageTareWeight, t0.Add(time.Minute)),
		entry(1, StageGrossWeight, t0),
		entry(2, StageQualityCheck, t0.Add(time.Minute)),
	}
	assert.Equal(t, StageTareWeight, CurrentStage(entries))

	same := []LedgerEntry{
		entry(5, StageQualityCheck, t0),
		entry(4, StageGrossWeight, t0),
	}
	assert.Equal(t, StageQualityCheck, CurrentStage(same))
}

func TestCurrentStage_EqualsNthAppend(t *testing.T) {
	// GIVEN: Each direction's full sequence appended within one minute
	// THEN: After every append the current stage is the code just appended

	for _, d := range []Direction{Inbound, Outbound} {
		var entries []LedgerEntry
		for i, code := range Sequence(d) {
			entries = append(entries, entry(int64(i+1), code, t0))
			assert.Equal(t, code, CurrentStage(entries), "direction %s step %d", d, i)
		}
	}
}

func TestSortEntries(t *testing.T) {
	entries := []LedgerEntry{
		entry(2, StageQualityCheck, t0),
		entry(3, StageTareWeight, t0.Add(2*time.Minute)),
		entry(1, StageGrossWeight, t0),
	}
	SortEntries(entries)
	assert.Equal(t, []StageCode{StageGrossWeight, StageQualityCheck, StageTareWeight},
		[]StageCode{entries[0].Code, entries[1].Code, entries[2].Code})
}

// =============================================================================
// SEQUENCES
// =============================================================================

func TestWeighmentStage(t *testing.T) {
	assert.Equal(t, StageGrossWeight, WeighmentStage(Inbound))
	assert.Equal(t, StageTareWeight, WeighmentStage(Outbound))
}

func TestSequence_ReturnsCopy(t *testing.T) {
	seq := Sequence(Inbound)
	seq[0] = StageTareWeight
	assert.Equal(t, StageGrossWeight, Sequence(Inbound)[0])
}

func TestNextStage(t *testing.T) {
	next, ok := NextStage(Inbound, nil)
	require.True(t, ok)
	assert.Equal(t, StageGrossWeight, next)

	next, ok = NextStage(Outbound, []LedgerEntry{entry(1, StageTareWeight, t0)})
	require.True(t, ok)
	assert.Equal(t, StageQualityCheck, next)

	_, ok = NextStage(Inbound, []LedgerEntry{
		entry(1, StageGrossWeight, t0),
		entry(2, StageQualityCheck, t0),
		entry(3, StageTareWeight, t0),
	})
	assert.False(t, ok)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name    string
		ticket  Ticket
		entries []LedgerEntry
		code    StageCode
		reason  string
	}{
		{"inbound first gross", inboundTicket(), nil, StageGrossWeight, ""},
		{"outbound first tare", outboundTicket(), nil, StageTareWeight, ""},
		{"inbound tare first", inboundTicket(), nil, StageTareWeight, "expected GWT next"},
		{"quality before weighment", inboundTicket(), nil, StageQualityCheck, "expected GWT next"},
		{"repeat", inboundTicket(), []LedgerEntry{entry(1, StageGrossWeight, t0)}, StageGrossWeight, "stage already recorded"},
		{"skip quality", inboundTicket(), []LedgerEntry{entry(1, StageGrossWeight, t0)}, StageTareWeight, "expected QCT next"},
		{"unknown code", inboundTicket(), nil, StageCode("XYZ"), "unknown stage code"},
		{"no direction", Ticket{No: 1}, nil, StageGrossWeight, "ticket has no direction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.ticket, tt.entries, tt.code)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var sv *StageViolationError
			require.ErrorAs(t, err, &sv)
			assert.ErrorIs(t, err, ErrStageViolation)
			assert.Equal(t, tt.reason, sv.Reason)
			assert.Equal(t, tt.code, sv.Requested)
		})
	}
}

func TestCheckTransition_SecondQualityRejected(t *testing.T) {
	entries := []LedgerEntry{entry(1, StageGrossWeight, t0), entry(2, StageQualityCheck, t0)}
	err := CheckTransition(inboundTicket(), entries, StageQualityCheck)
	assert.ErrorIs(t, err, ErrStageViolation)
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestEligibleForQualityCheck_BothDirections(t *testing.T) {
	// GIVEN: Each direction
	// THEN: Eligible iff exactly one weighment-complete entry and no QCT

	for _, tk := range []Ticket{inboundTicket(), outboundTicket()} {
		w := WeighmentStage(tk.Direction)

		assert.False(t, EligibleForQualityCheck(tk, nil), "%s: nothing recorded", tk.Direction)
		assert.True(t, EligibleForQualityCheck(tk, []LedgerEntry{entry(1, w, t0)}), "%s: weighed", tk.Direction)
		assert.False(t, EligibleForQualityCheck(tk, []LedgerEntry{
			entry(1, w, t0), entry(2, StageQualityCheck, t0),
		}), "%s: quality done", tk.Direction)
		assert.False(t, EligibleForQualityCheck(tk, []LedgerEntry{
			entry(1, w, t0), entry(2, w, t0),
		}), "%s: weighed twice", tk.Direction)
	}
}

func TestEligibleForQualityCheck_OtherWeighmentDoesNotCount(t *testing.T) {
	// An outbound ticket with only GWT has not completed its first weighment.
	assert.False(t, EligibleForQualityCheck(outboundTicket(), []LedgerEntry{entry(1, StageGrossWeight, t0)}))
}

func TestCheckQualityCheck_Reasons(t *testing.T) {
	var sv *StageViolationError

	err := CheckQualityCheck(inboundTicket(), nil)
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "weighment not done yet", sv.Reason)

	err = CheckQualityCheck(inboundTicket(), []LedgerEntry{entry(1, StageGrossWeight, t0), entry(2, StageQualityCheck, t0)})
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "quality already recorded", sv.Reason)
	assert.Equal(t, StageQualityCheck, sv.Current)
}

func TestEligibleForWeighOut(t *testing.T) {
	tk := inboundTicket()
	assert.True(t, EligibleForWeighOut(tk))

	out := t0.Add(time.Hour)
	tk.WeighOutAt = &out
	assert.False(t, EligibleForWeighOut(tk))

	assert.False(t, EligibleForWeighOut(Ticket{No: 2, Direction: Inbound}))
}

func TestMinute(t *testing.T) {
	at := time.Date(2026, time.March, 10, 9, 30, 59, 999, time.UTC)
	assert.Equal(t, t0, Minute(at))
}
