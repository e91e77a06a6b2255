package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/weighbridge/checkpoint"
	"github.com/warp/weighbridge/store/memory"
)

var (
	ctx = context.Background()
	t0  = time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)
)

func create(t *testing.T, s *memory.Store, tk checkpoint.Ticket) checkpoint.Ticket {
	t.Helper()
	var out checkpoint.Ticket
	require.NoError(t, s.WithTx(ctx, func(tx checkpoint.Tx) error {
		var err error
		out, err = tx.CreateTicket(ctx, tk)
		return err
	}))
	return out
}

func inboundTicket(site string) checkpoint.Ticket {
	at := t0
	return checkpoint.Ticket{
		Direction: checkpoint.Inbound, SiteID: site, CompanyID: "company-1",
		SupplierID: 1, VehicleID: 1, WeighInAt: &at, TransactionDate: t0,
	}
}

func TestWithTx_RollbackRestoresEverything(t *testing.T) {
	// GIVEN: A transaction that creates a ticket, appends and sets status
	// WHEN: It returns an error
	// THEN: Ticket, ledger, pointer and number counter are all restored

	s := memory.NewStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx checkpoint.Tx) error {
		tk, err := tx.CreateTicket(ctx, inboundTicket("site-1"))
		if err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, checkpoint.LedgerEntry{
			ID: "e1", TicketNo: tk.No, Code: checkpoint.StageGrossWeight, ActorID: "op", At: t0,
		}); err != nil {
			return err
		}
		if err := tx.SetCurrentStatus(ctx, tk.No, checkpoint.StageGrossWeight); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Ticket(ctx, 1)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	_, ok, err := s.CurrentStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	tk := create(t, s, inboundTicket("site-1"))
	assert.Equal(t, checkpoint.TicketNo(1), tk.No, "counter rolled back too")
}

func TestCreateTicket_PresetNumberAdvancesCounter(t *testing.T) {
	s := memory.NewStore()
	preset := inboundTicket("site-1")
	preset.No = 1001

	assert.Equal(t, checkpoint.TicketNo(1001), create(t, s, preset).No)
	assert.Equal(t, checkpoint.TicketNo(1002), create(t, s, inboundTicket("site-1")).No)

	err := s.WithTx(ctx, func(tx checkpoint.Tx) error {
		_, err := tx.CreateTicket(ctx, preset)
		return err
	})
	assert.ErrorIs(t, err, checkpoint.ErrStageViolation)
}

func TestAppendEntry(t *testing.T) {
	s := memory.NewStore()
	tk := create(t, s, inboundTicket("site-1"))

	appendCode := func(no checkpoint.TicketNo, code checkpoint.StageCode, at time.Time) (checkpoint.LedgerEntry, error) {
		var e checkpoint.LedgerEntry
		err := s.WithTx(ctx, func(tx checkpoint.Tx) error {
			var err error
			e, err = tx.AppendEntry(ctx, checkpoint.LedgerEntry{
				ID: string(code), TicketNo: no, Code: code, ActorID: "op", At: at,
			})
			return err
		})
		return e, err
	}

	qct, err := appendCode(tk.No, checkpoint.StageQualityCheck, t0.Add(time.Minute))
	require.NoError(t, err)
	gwt, err := appendCode(tk.No, checkpoint.StageGrossWeight, t0)
	require.NoError(t, err)
	assert.Greater(t, gwt.Seq, qct.Seq)

	entries, err := s.Entries(ctx, tk.No)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, checkpoint.StageGrossWeight, entries[0].Code, "ordered by time, not insertion")

	_, err = appendCode(tk.No, checkpoint.StageGrossWeight, t0)
	assert.ErrorIs(t, err, checkpoint.ErrStageViolation)

	_, err = appendCode(99, checkpoint.StageGrossWeight, t0)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestEntries_ReturnsCopy(t *testing.T) {
	s := memory.NewStore()
	tk := create(t, s, inboundTicket("site-1"))
	require.NoError(t, s.WithTx(ctx, func(tx checkpoint.Tx) error {
		_, err := tx.AppendEntry(ctx, checkpoint.LedgerEntry{
			ID: "e1", TicketNo: tk.No, Code: checkpoint.StageGrossWeight, ActorID: "op", At: t0,
		})
		return err
	}))

	entries, err := s.Entries(ctx, tk.No)
	require.NoError(t, err)
	entries[0].Code = checkpoint.StageTareWeight

	again, err := s.Entries(ctx, tk.No)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StageGrossWeight, again[0].Code)
}

func TestQualityRecord_OnePerTicket(t *testing.T) {
	s := memory.NewStore()
	tk := create(t, s, inboundTicket("site-1"))
	rec, err := checkpoint.DecodeQualityRecord(tk.No, "10,null", "12.5,3")
	require.NoError(t, err)

	save := func() error {
		return s.WithTx(ctx, func(tx checkpoint.Tx) error { return tx.SaveQualityRecord(ctx, rec) })
	}
	require.NoError(t, save())
	assert.ErrorIs(t, save(), checkpoint.ErrStageViolation)

	got, ok, err := s.QualityRecord(ctx, tk.No)
	require.NoError(t, err)
	require.True(t, ok)
	ids, values := got.Encode()
	assert.Equal(t, "10,null", ids)
	assert.Equal(t, "12.5,3", values)
}

func TestQualityRecord_CorruptRow(t *testing.T) {
	s := memory.NewStore()
	tk := create(t, s, inboundTicket("site-1"))
	s.PutRawQuality(tk.No, "10,11,12", "1,2")

	_, _, err := s.QualityRecord(ctx, tk.No)
	assert.ErrorIs(t, err, checkpoint.ErrCorruptQualityRecord)
}

func TestSetWeighOut(t *testing.T) {
	s := memory.NewStore()
	tk := create(t, s, inboundTicket("site-1"))
	out := func(no checkpoint.TicketNo) error {
		return s.WithTx(ctx, func(tx checkpoint.Tx) error { return tx.SetWeighOut(ctx, no, t0.Add(time.Hour)) })
	}

	require.NoError(t, out(tk.No))
	assert.ErrorIs(t, out(tk.No), checkpoint.ErrStageViolation)
	assert.ErrorIs(t, out(404), checkpoint.ErrNotFound)

	n, err := s.CountTickets(ctx, checkpoint.TicketFilter{OnlyInside: true})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListTickets_Filters(t *testing.T) {
	s := memory.NewStore()
	a := create(t, s, inboundTicket("site-1"))
	b := create(t, s, inboundTicket("site-2"))
	c := inboundTicket("site-1")
	c.SupplierID = 2
	c.TransactionDate = t0.Add(24 * time.Hour)
	c = create(t, s, c)
	require.NoError(t, s.WithTx(ctx, func(tx checkpoint.Tx) error {
		return tx.SetCurrentStatus(ctx, c.No, checkpoint.StageGrossWeight)
	}))

	list := func(f checkpoint.TicketFilter) []checkpoint.TicketNo {
		tickets, err := s.ListTickets(ctx, f)
		require.NoError(t, err)
		var out []checkpoint.TicketNo
		for _, tk := range tickets {
			out = append(out, tk.No)
		}
		return out
	}

	assert.Equal(t, []checkpoint.TicketNo{a.No, b.No, c.No}, list(checkpoint.TicketFilter{}))
	assert.Equal(t, []checkpoint.TicketNo{a.No, c.No}, list(checkpoint.TicketFilter{SiteID: "site-1"}))
	assert.Equal(t, []checkpoint.TicketNo{c.No}, list(checkpoint.TicketFilter{CurrentStatus: []checkpoint.StageCode{checkpoint.StageGrossWeight}}))
	assert.Equal(t, []checkpoint.TicketNo{c.No}, list(checkpoint.TicketFilter{SupplierIDs: []int64{2}}))
	assert.Empty(t, list(checkpoint.TicketFilter{SupplierIDs: []int64{}}))

	day := t0.Add(24 * time.Hour)
	assert.Equal(t, []checkpoint.TicketNo{c.No}, list(checkpoint.TicketFilter{TransactionDate: &day}))
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_QualityRangeID(t *testing.T) {
	c := memory.NewCatalog()
	c.AddQualityRange(10, checkpoint.RangeKey{
		Parameter: "moisture", Direction: checkpoint.Inbound, MaterialName: "Coal",
		SupplierName: "Eastern Coalfields", SupplierAddress: "Sanctoria,Asansol",
	})
	c.AddQualityRange(20, checkpoint.RangeKey{
		Parameter: "fineness", Direction: checkpoint.Outbound, MaterialName: "Cement",
		SupplierName: "dropped",
	})

	id, err := c.QualityRangeID(ctx, checkpoint.RangeKey{
		Parameter: "moisture", Direction: checkpoint.Inbound, MaterialName: "Coal",
		SupplierName: "Eastern Coalfields", SupplierAddress: "Sanctoria,Asansol",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)

	id, err = c.QualityRangeID(ctx, checkpoint.RangeKey{
		Parameter: "fineness", Direction: checkpoint.Outbound, MaterialName: "Cement",
		SupplierName: "anyone", SupplierAddress: "anywhere",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), id, "outbound keys ignore the supplier")

	_, err = c.QualityRangeID(ctx, checkpoint.RangeKey{Parameter: "ash", Direction: checkpoint.Inbound})
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	c.DeleteQualityRange(10)
	ranges, err := c.QualityRanges(ctx, []int64{10, 20})
	require.NoError(t, err)
	assert.Len(t, ranges, 1)
}

func TestCatalog_QualityRangeID_DuplicateKeysPickLowest(t *testing.T) {
	c := memory.NewCatalog()
	key := checkpoint.RangeKey{Parameter: "fineness", Direction: checkpoint.Outbound, MaterialName: "Cement"}
	for _, id := range []int64{42, 7, 19, 30} {
		c.AddQualityRange(id, key)
	}

	for i := 0; i < 20; i++ {
		id, err := c.QualityRangeID(ctx, key)
		require.NoError(t, err)
		require.Equal(t, int64(7), id)
	}
}

func TestCatalog_SearchPartiesAndSeeder(t *testing.T) {
	c := memory.NewCatalog()
	require.NoError(t, c.SaveSupplier(ctx, checkpoint.Party{ID: 1, Name: "Eastern Coalfields", AddressLine1: "Sanctoria", AddressLine2: "Asansol"}))
	require.NoError(t, c.SaveCustomer(ctx, checkpoint.Party{ID: 1, Name: "BuildCo Infra", AddressLine1: "MG Road", AddressLine2: "Pune"}))
	require.NoError(t, c.SaveVehicle(ctx, checkpoint.Vehicle{ID: 3, Number: "WB23A1001"}))

	suppliers, customers, err := c.SearchParties(ctx, "sanct")
	require.NoError(t, err)
	assert.Len(t, suppliers, 1)
	assert.Empty(t, customers)

	_, customers, err = c.SearchParties(ctx, "pune")
	require.NoError(t, err)
	assert.Empty(t, customers, "second address line is not searched")

	v, err := c.VehicleByNumber(ctx, "wb23a1001")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.ID)

	c.DeleteSupplier(1)
	_, err = c.Supplier(ctx, 1)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}
