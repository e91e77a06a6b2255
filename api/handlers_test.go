/*
handlers_test.go - HTTP tests for the checkpoint API

Tests for:
- Inbound lifecycle end to end over HTTP
- Error kinds mapped to HTTP status codes
- Dashboards, searches, reconciliation
- Demo scenario loading
*/
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/weighbridge/checkpoint"
	"github.com/warp/weighbridge/store/memory"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router  *chi.Mux
	store   *memory.Store
	catalog *memory.Catalog
}

var testClock = time.Date(2026, time.March, 10, 9, 30, 45, 0, time.Local)

func newTestServer(t *testing.T) *testServer {
	store := memory.NewStore()
	catalog := memory.NewCatalog()

	h := NewHandler(store, catalog, true, zaptest.NewLogger(t))
	h.Service.Now = func() time.Time { return testClock }
	h.Seeder = catalog

	return &testServer{router: NewRouter(h, []string{"*"}), store: store, catalog: catalog}
}

func (s *testServer) seedCoal(t *testing.T) {
	s.catalog.AddSupplier(checkpoint.Party{ID: 1, Name: "Eastern Coalfields", AddressLine1: "Sanctoria", AddressLine2: "Asansol"})
	s.catalog.AddMaterial(1, "Coal")
	s.catalog.AddTransporter(1, "Highway Logistics")
	s.catalog.AddVehicle(checkpoint.Vehicle{ID: 1, Number: "WB23A1001"})
	s.catalog.AddCompany(checkpoint.Company{ID: "company-1", Name: "Warp Cement Works", Address: "Chandrapur"})
	key := checkpoint.RangeKey{
		Direction:       checkpoint.Inbound,
		MaterialName:    "Coal",
		SupplierName:    "Eastern Coalfields",
		SupplierAddress: "Sanctoria,Asansol",
	}
	key.Parameter = "moisture"
	s.catalog.AddQualityRange(10, key)
	key.Parameter = "ash"
	s.catalog.AddQualityRange(11, key)
}

// do sends a request as the site-1 operator unless anonymous is set.
func (s *testServer) do(method, path, body string, anonymous ...bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if len(anonymous) == 0 || !anonymous[0] {
		req.Header.Set(HeaderUserID, "op-1")
		req.Header.Set(HeaderSiteID, "site-1")
		req.Header.Set(HeaderCompanyID, "company-1")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const openCoalTicket = `{"direction":"inbound","supplier_id":1,"material_id":1,"transporter_id":1,"vehicle_id":1,"tp_no":"TP-9"}`

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAPI_InboundLifecycle(t *testing.T) {
	// GIVEN: Master data for a coal delivery
	// WHEN: The truck goes gate -> gross -> quality -> tare -> weigh-out
	// THEN: Each step answers with the expected stage and the report
	//       shows the parameters in submission order

	s := newTestServer(t)
	s.seedCoal(t)

	rec := s.do("POST", "/api/tickets", openCoalTicket)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ticket := decode[TicketDTO](t, rec)
	assert.Equal(t, "inbound", ticket.Direction)
	assert.Equal(t, "10-03-2026 09:30:00", ticket.WeighInAt)
	assert.Equal(t, "2026-03-10", ticket.TransactionDate)

	base := "/api/tickets/" + itoa(ticket.TicketNo)

	rec = s.do("POST", base+"/weighments", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "GWT", decode[LedgerEntryDTO](t, rec).Code)

	rec = s.do("GET", "/api/dashboard/quality?direction=inbound", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]TicketViewDTO](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, ticket.TicketNo, pending[0].TicketNo)
	assert.Equal(t, "Sanctoria,Asansol", pending[0].CounterpartyAddress)

	rec = s.do("POST", base+"/quality", `{"measurements":{"moisture":12.5,"ash":"3.1"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	quality := decode[QualityRecordDTO](t, rec)
	assert.Equal(t, "10,11", quality.QualityRangeID)
	assert.Equal(t, "12.5,3.1", quality.QualityValues)

	rec = s.do("GET", base+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"quality_parameters":{"moisture":12.5,"ash":3.1}`)
	report := decode[ReportDTO](t, rec)
	assert.Equal(t, "Warp Cement Works", report.CompanyName)
	assert.Equal(t, "Sanctoria", report.CounterpartyAddress)
	assert.Equal(t, "10-03-2026", report.Date)

	rec = s.do("POST", base+"/weighments", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "TWT", decode[LedgerEntryDTO](t, rec).Code)

	rec = s.do("GET", "/api/dashboard/inside", "")
	assert.Equal(t, 1, decode[CountDTO](t, rec).Count)

	rec = s.do("POST", base+"/weigh-out", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10-03-2026 09:30:00", decode[TicketDTO](t, rec).WeighOutAt)

	rec = s.do("GET", "/api/dashboard/inside", "")
	assert.Equal(t, 0, decode[CountDTO](t, rec).Count)

	rec = s.do("GET", base+"/ledger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]LedgerEntryDTO](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"GWT", "QCT", "TWT"}, []string{entries[0].Code, entries[1].Code, entries[2].Code})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_NoCaller_Unauthorized(t *testing.T) {
	// GIVEN: A request without gateway headers
	// WHEN: Opening a ticket
	// THEN: 401 session_expired

	s := newTestServer(t)
	s.seedCoal(t)

	rec := s.do("POST", "/api/tickets", openCoalTicket, true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_expired", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_QualityBeforeWeighment_Conflict(t *testing.T) {
	// GIVEN: A ticket at the gate
	// WHEN: Submitting quality before the gross weight
	// THEN: 409 stage_violation with the reason as message

	s := newTestServer(t)
	s.seedCoal(t)
	ticket := decode[TicketDTO](t, s.do("POST", "/api/tickets", openCoalTicket))

	rec := s.do("POST", "/api/tickets/"+itoa(ticket.TicketNo)+"/quality", `{"measurements":{"moisture":12.5}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "stage_violation", resp.Code)
	assert.Equal(t, "weighment not done yet", resp.Error)
}

func TestAPI_SecondQuality_Conflict(t *testing.T) {
	// GIVEN: A ticket whose quality is recorded
	// WHEN: Passing quality again
	// THEN: 409

	s := newTestServer(t)
	s.seedCoal(t)
	ticket := decode[TicketDTO](t, s.do("POST", "/api/tickets", openCoalTicket))
	base := "/api/tickets/" + itoa(ticket.TicketNo)
	s.do("POST", base+"/weighments", "")
	require.Equal(t, http.StatusCreated, s.do("POST", base+"/quality/pass", "").Code)

	rec := s.do("POST", base+"/quality/pass", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_UnknownParameter_BadRequest(t *testing.T) {
	// GIVEN: Strict parameter resolution
	// WHEN: Submitting a parameter with no range entry
	// THEN: 400 invalid_argument and no QCT is written

	s := newTestServer(t)
	s.seedCoal(t)
	ticket := decode[TicketDTO](t, s.do("POST", "/api/tickets", openCoalTicket))
	base := "/api/tickets/" + itoa(ticket.TicketNo)
	s.do("POST", base+"/weighments", "")

	rec := s.do("POST", base+"/quality", `{"measurements":{"calorific":5400}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", decode[ErrorResponse](t, rec).Code)

	entries := decode[[]LedgerEntryDTO](t, s.do("GET", base+"/ledger", ""))
	assert.Len(t, entries, 1)
}

func TestAPI_OtherSiteTicket_NotFound(t *testing.T) {
	// GIVEN: A ticket opened on site-1
	// WHEN: An operator of site-2 asks for its report
	// THEN: 404, the ticket is invisible to them

	s := newTestServer(t)
	s.seedCoal(t)
	ticket := decode[TicketDTO](t, s.do("POST", "/api/tickets", openCoalTicket))

	req := httptest.NewRequest("GET", "/api/tickets/"+itoa(ticket.TicketNo)+"/report", nil)
	req.Header.Set(HeaderUserID, "op-2")
	req.Header.Set(HeaderSiteID, "site-2")
	req.Header.Set(HeaderCompanyID, "company-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_BadTicketNumber(t *testing.T) {
	s := newTestServer(t)
	rec := s.do("POST", "/api/tickets/abc/weighments", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_UnknownDirection_BadRequest(t *testing.T) {
	s := newTestServer(t)
	rec := s.do("GET", "/api/dashboard/quality?direction=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SEARCH
// =============================================================================

func TestAPI_Search(t *testing.T) {
	// GIVEN: One ticket waiting for quality
	// WHEN: Searching in each supported way
	// THEN: Matches, empty results and bad input are told apart

	s := newTestServer(t)
	s.seedCoal(t)
	ticket := decode[TicketDTO](t, s.do("POST", "/api/tickets", openCoalTicket))
	s.do("POST", "/api/tickets/"+itoa(ticket.TicketNo)+"/weighments", "")

	rec := s.do("GET", "/api/search?ticketNo="+itoa(ticket.TicketNo), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TicketViewDTO](t, rec), 1)

	rec = s.do("GET", "/api/search?date=2026-03-10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TicketViewDTO](t, rec), 1)

	rec = s.do("GET", "/api/search?date=not-a-date", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", decode[ErrorResponse](t, rec).Code)

	rec = s.do("GET", "/api/search?vehicleNo=wb23a1001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TicketViewDTO](t, rec), 1)

	rec = s.do("GET", "/api/search?vehicleNo=XX00", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = s.do("GET", "/api/search?counterparty=coalfields", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TicketViewDTO](t, rec), 1)

	rec = s.do("GET", "/api/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestAPI_Reconcile_RepairsPointer(t *testing.T) {
	// GIVEN: A ticket whose status pointer was overwritten
	// WHEN: Reconciling it
	// THEN: The pointer is rewritten from the ledger

	s := newTestServer(t)
	s.seedCoal(t)
	ticket := decode[TicketDTO](t, s.do("POST", "/api/tickets", openCoalTicket))
	base := "/api/tickets/" + itoa(ticket.TicketNo)
	s.do("POST", base+"/weighments", "")
	s.store.ForceStatus(checkpoint.TicketNo(ticket.TicketNo), checkpoint.StageTareWeight)

	rec := s.do("POST", base+"/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[ReconcileDTO](t, rec)
	assert.True(t, result.Repaired)
	assert.Equal(t, "GWT", result.Stage)

	rec = s.do("POST", base+"/reconcile", "")
	assert.False(t, decode[ReconcileDTO](t, rec).Repaired)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_LoadScenario_MixedYard(t *testing.T) {
	// GIVEN: An empty server
	// WHEN: Loading the mixed-yard scenario
	// THEN: Four tickets exist and two wait for a quality check

	s := newTestServer(t)

	rec := s.do("GET", "/api/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), 3)

	rec = s.do("POST", "/api/scenarios/load", `{"scenario_id":"mixed-yard"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[ScenarioResultDTO](t, rec).Tickets, 4)

	rec = s.do("GET", "/api/dashboard/quality?direction=all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TicketViewDTO](t, rec), 2)

	rec = s.do("GET", "/api/dashboard/completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TicketViewDTO](t, rec), 1)

	rec = s.do("GET", "/api/dashboard/inside", "")
	assert.Equal(t, 3, decode[CountDTO](t, rec).Count)
}

func TestAPI_LoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t)
	rec := s.do("POST", "/api/scenarios/load", `{"scenario_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// MEASUREMENTS CODEC
// =============================================================================

func TestMeasurementsJSON_KeepsOrder(t *testing.T) {
	var m MeasurementsJSON
	require.NoError(t, json.Unmarshal([]byte(`{"sulphur":"0.6","moisture":12.5,"ash":3}`), &m))
	require.Len(t, m, 3)
	assert.Equal(t, "sulphur", m[0].Parameter)
	assert.Equal(t, "moisture", m[1].Parameter)
	assert.Equal(t, "ash", m[2].Parameter)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"sulphur":0.6,"moisture":12.5,"ash":3}`, string(out))
}

func TestMeasurementsJSON_RejectsNonNumbers(t *testing.T) {
	var m MeasurementsJSON
	assert.Error(t, json.Unmarshal([]byte(`{"moisture":true}`), &m))
	assert.Error(t, json.Unmarshal([]byte(`{"moisture":"wet"}`), &m))
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &m))
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
