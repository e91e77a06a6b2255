/*
handlers.go - HTTP API handlers for the weighbridge checkpoint engine

PURPOSE:
  Exposes the checkpoint service and projector via REST API. Handles HTTP
  request/response and JSON serialization, and delegates every rule to
  the checkpoint package.

ENDPOINTS:
  Tickets:
    POST   /api/tickets                          Gate entry
    POST   /api/tickets/{ticketNo}/weighments    Record next weighment
    POST   /api/tickets/{ticketNo}/quality       Submit quality measurements
    POST   /api/tickets/{ticketNo}/quality/pass  Mark quality done, no values
    POST   /api/tickets/{ticketNo}/weigh-out     Vehicle leaves
    GET    /api/tickets/{ticketNo}/report        Quality report
    GET    /api/tickets/{ticketNo}/ledger        Stage history
    POST   /api/tickets/{ticketNo}/reconcile     Rewrite status from ledger

  Dashboard:
    GET    /api/dashboard/quality?direction=     Pending quality checks
    GET    /api/dashboard/completed?direction=   Quality recorded
    GET    /api/dashboard/inside                 Vehicles not weighed out

  Search:
    GET    /api/search?ticketNo=|date=|vehicleNo=|counterparty=

CALLER:
  The upstream gateway authenticates and sets X-User-Id, X-Site-Id and
  X-Company-Id. callerMiddleware turns them into a checkpoint.Caller on
  the request context. Without them every endpoint answers 401.

ERROR HANDLING:
  Errors are returned as JSON with a stable code and HTTP status:
  - 400 invalid_argument
  - 401 session_expired
  - 404 not_found
  - 409 stage_violation
  - 500 corrupt_quality_record, unclassified errors
  - 503 persistence (retryable)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/weighbridge/checkpoint"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *checkpoint.Service
	Projector *checkpoint.Projector
	Ledger    *checkpoint.DefaultLedger
	Log       *zap.Logger

	// Seeder loads demo scenarios. Nil disables the scenario routes.
	Seeder Seeder
}

// NewHandler wires the engine components over one store and catalog.
func NewHandler(store checkpoint.TxStore, catalog checkpoint.Catalog, strictQuality bool, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	compiler := checkpoint.NewCompiler(catalog, strictQuality, log)
	return &Handler{
		Service:   checkpoint.NewService(store, catalog, compiler, log),
		Projector: checkpoint.NewProjector(store, catalog, compiler, log),
		Ledger:    checkpoint.NewLedger(store, log),
		Log:       log,
	}
}

// Caller headers set by the authenticating gateway.
const (
	HeaderUserID    = "X-User-Id"
	HeaderSiteID    = "X-Site-Id"
	HeaderCompanyID = "X-Company-Id"
)

// callerMiddleware puts the caller from the gateway headers on the
// request context. Missing headers leave the context without a caller.
func callerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := checkpoint.Caller{
			ActorID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			SiteID:    strings.TrimSpace(r.Header.Get(HeaderSiteID)),
			CompanyID: strings.TrimSpace(r.Header.Get(HeaderCompanyID)),
		}
		if c.ActorID != "" || c.SiteID != "" || c.CompanyID != "" {
			r = r.WithContext(checkpoint.WithCaller(r.Context(), c))
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// TICKET HANDLERS
// =============================================================================

// OpenTicket records a vehicle at the gate.
// POST /api/tickets
func (h *Handler) OpenTicket(w http.ResponseWriter, r *http.Request) {
	var req OpenTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	entry, err := req.toGateEntry()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.Service.OpenTicket(r.Context(), entry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTicketDTO(t))
}

// RecordWeighment appends the next weighing stage.
// POST /api/tickets/{ticketNo}/weighments
func (h *Handler) RecordWeighment(w http.ResponseWriter, r *http.Request) {
	no, ok := ticketNoParam(w, r)
	if !ok {
		return
	}
	entry, err := h.Service.RecordWeighment(r.Context(), no)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedgerEntryDTO(entry))
}

// SubmitQuality stores measurements and records QCT.
// POST /api/tickets/{ticketNo}/quality
func (h *Handler) SubmitQuality(w http.ResponseWriter, r *http.Request) {
	no, ok := ticketNoParam(w, r)
	if !ok {
		return
	}
	var req SubmitQualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	rec, err := h.Service.SubmitQuality(r.Context(), no, checkpoint.Measurements(req.Measurements))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQualityRecordDTO(rec))
}

// PassQuality records QCT without measurements.
// POST /api/tickets/{ticketNo}/quality/pass
func (h *Handler) PassQuality(w http.ResponseWriter, r *http.Request) {
	no, ok := ticketNoParam(w, r)
	if !ok {
		return
	}
	entry, err := h.Service.PassQuality(r.Context(), no)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedgerEntryDTO(entry))
}

// RecordWeighOut closes the visit.
// POST /api/tickets/{ticketNo}/weigh-out
func (h *Handler) RecordWeighOut(w http.ResponseWriter, r *http.Request) {
	no, ok := ticketNoParam(w, r)
	if !ok {
		return
	}
	t, err := h.Service.RecordWeighOut(r.Context(), no)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

// GetReport returns the quality report.
// GET /api/tickets/{ticketNo}/report
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	no, ok := ticketNoParam(w, r)
	if !ok {
		return
	}
	report, err := h.Projector.Report(r.Context(), no)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// GetLedger returns the stage history.
// GET /api/tickets/{ticketNo}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	no, ok := ticketNoParam(w, r)
	if !ok {
		return
	}
	if _, err := h.Projector.Ticket(r.Context(), no); err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.Ledger.Entries(r.Context(), no)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Reconcile rewrites the status pointer from the ledger.
// POST /api/tickets/{ticketNo}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	no, ok := ticketNoParam(w, r)
	if !ok {
		return
	}
	if _, err := h.Projector.Ticket(r.Context(), no); err != nil {
		h.fail(w, r, err)
		return
	}
	stage, repaired, err := h.Ledger.Reconcile(r.Context(), no)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileDTO{TicketNo: int64(no), Stage: string(stage), Repaired: repaired})
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// PendingQuality lists tickets waiting for a quality check.
// GET /api/dashboard/quality?direction=inbound|outbound|all
func (h *Handler) PendingQuality(w http.ResponseWriter, r *http.Request) {
	var (
		views []checkpoint.TicketView
		err   error
	)
	switch dir := r.URL.Query().Get("direction"); strings.ToLower(dir) {
	case "", "all":
		views, err = h.Projector.PendingAll(r.Context())
	default:
		var d checkpoint.Direction
		if d, err = checkpoint.ParseDirection(dir); err == nil {
			views, err = h.Projector.Pending(r.Context(), d)
		}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketViewDTOs(views))
}

// CompletedQuality lists tickets whose quality is recorded.
// GET /api/dashboard/completed?direction=inbound|outbound|all
func (h *Handler) CompletedQuality(w http.ResponseWriter, r *http.Request) {
	var d checkpoint.Direction
	if dir := r.URL.Query().Get("direction"); dir != "" && !strings.EqualFold(dir, "all") {
		var err error
		if d, err = checkpoint.ParseDirection(dir); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	views, err := h.Projector.Completed(r.Context(), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketViewDTOs(views))
}

// InsideCount counts vehicles still on site.
// GET /api/dashboard/inside
func (h *Handler) InsideCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Projector.InsideCount(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Count: n})
}

// =============================================================================
// SEARCH
// =============================================================================

// Search dispatches on the first query parameter present.
// GET /api/search?ticketNo=|date=|vehicleNo=|counterparty=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var (
		views []checkpoint.TicketView
		err   error
	)
	switch {
	case q.Has("ticketNo"):
		n, perr := strconv.ParseInt(q.Get("ticketNo"), 10, 64)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "Invalid ticket number", Code: "invalid_argument", Details: perr.Error(),
			})
			return
		}
		var v checkpoint.TicketView
		if v, err = h.Projector.SearchByTicketNo(ctx, checkpoint.TicketNo(n)); err == nil {
			views = []checkpoint.TicketView{v}
		}
	case q.Has("date"):
		views, err = h.Projector.SearchByDate(ctx, q.Get("date"))
	case q.Has("vehicleNo"):
		views, err = h.Projector.SearchByVehicleNo(ctx, q.Get("vehicleNo"))
	case q.Has("counterparty"):
		views, err = h.Projector.SearchByCounterparty(ctx, q.Get("counterparty"))
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "One of ticketNo, date, vehicleNo or counterparty is required",
			Code:  "invalid_argument",
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketViewDTOs(views))
}

// =============================================================================
// HELPERS
// =============================================================================

func ticketNoParam(w http.ResponseWriter, r *http.Request) (checkpoint.TicketNo, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "ticketNo"), 10, 64)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "Invalid ticket number", Code: "invalid_argument",
		})
		return 0, false
	}
	return checkpoint.TicketNo(n), true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch checkpoint.Kind(err) {
	case "invalid_argument":
		return http.StatusBadRequest
	case "session_expired":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "stage_violation":
		return http.StatusConflict
	case "persistence":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err with its stable code and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	resp := ErrorResponse{Error: http.StatusText(status), Code: checkpoint.Kind(err), Details: err.Error()}
	var sv *checkpoint.StageViolationError
	if errors.As(err, &sv) {
		resp.Error = sv.Reason
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
