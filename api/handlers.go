/*
handlers.go - HTTP handlers for the debt ledger

PURPOSE:
  Maps structured HTTP input onto the ledger core and error kinds onto
  transport outcomes. Thin by design: parsing, delegation, serialization.

ENDPOINTS:
  Clients:
    GET    /api/clients                List clients
    POST   /api/clients                Create client
    GET    /api/clients/{id}           Get client
    POST   /api/clients/{id}/archive   Archive (fails with outstanding debts)
    GET    /api/clients/{id}/debts     Client's debts
    GET    /api/clients/{id}/stats     Client summary

  Debts:
    POST   /api/debts                          Create debt
    GET    /api/debts                          List debts
    GET    /api/debts/{id}                     Get debt
    POST   /api/debts/{id}/cancel              Cancel debt
    GET    /api/debts/{id}/payments            Payment log
    POST   /api/debts/{id}/payments            Apply payment (reconciliation)
    POST   /api/debts/{id}/payments/{paymentID}/reverse  Offsetting correction

  Admin:
    GET    /api/stats                  Portfolio summary
    GET    /api/reminders/due          Reminder candidates

ERROR MAPPING:
  400: validation, currency mismatch, closed debt
  404: unknown client/debt/payment
  409: overpayment, version conflict, already reversed
  500: everything else

ACTOR:
  The recording actor arrives in the X-Actor header, supplied by the
  external authentication layer. This service trusts it as given.

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Book      *ledger.Book
	Processor *ledger.Processor
	Stats     *ledger.Aggregator
	Reminders *ledger.ReminderQuery
}

// NewHandler wires the full ledger core over one store.
func NewHandler(store ledger.Store, cfg ledger.Config) *Handler {
	return &Handler{
		Book:      ledger.NewBook(store, cfg),
		Processor: ledger.NewProcessor(store, cfg),
		Stats:     ledger.NewAggregator(store, cfg),
		Reminders: ledger.NewReminderQuery(store, cfg),
	}
}

// now reads the ledger's injected clock, falling back to wall time.
func (h *Handler) now() time.Time {
	if h.Reminders != nil && h.Reminders.Config.Now != nil {
		return h.Reminders.Config.Now()
	}
	return time.Now().UTC()
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Book.ListClients(r.Context())
	if err != nil {
		writeLedgerError(w, "Failed to list clients", err)
		return
	}
	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := h.Book.CreateClient(r.Context(), req.Name, req.Email, req.Phone)
	if err != nil {
		writeLedgerError(w, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(*c))
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))
	c, err := h.Book.GetClient(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

func (h *Handler) ArchiveClient(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))
	c, err := h.Book.ArchiveClient(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to archive client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

func (h *Handler) ListClientDebts(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))
	debts, err := h.Book.ListClientDebts(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to list debts", err)
		return
	}
	dtos := make([]DebtDTO, len(debts))
	for i, d := range debts {
		dtos[i] = toDebtDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetClientStats(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))
	stats, err := h.Stats.ClientStats(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, ClientStatsDTO{
		ClientID:       string(stats.ClientID),
		TotalPrincipal: stats.TotalPrincipal.String(),
		TotalPaid:      stats.TotalPaid.String(),
		TotalOwed:      stats.TotalOwed.String(),
		OpenDebts:      stats.OpenDebts,
		OverdueDebts:   stats.OverdueDebts,
		PaidDebts:      stats.PaidDebts,
	})
}

// =============================================================================
// DEBT HANDLERS
// =============================================================================

func (h *Handler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	var req CreateDebtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	principal, err := parseMoney(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal (use a decimal string)", err)
		return
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}
	d, err := h.Book.CreateDebt(r.Context(), ledger.ClientID(req.ClientID), principal, req.Currency, dueDate)
	if err != nil {
		writeLedgerError(w, "Failed to create debt", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDebtDTO(*d))
}

func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	debts, err := h.Book.ListDebts(r.Context())
	if err != nil {
		writeLedgerError(w, "Failed to list debts", err)
		return
	}
	dtos := make([]DebtDTO, len(debts))
	for i, d := range debts {
		dtos[i] = toDebtDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetDebt(w http.ResponseWriter, r *http.Request) {
	id := ledger.DebtID(chi.URLParam(r, "id"))
	d, err := h.Book.GetDebt(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get debt", err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtDTO(*d))
}

func (h *Handler) CancelDebt(w http.ResponseWriter, r *http.Request) {
	id := ledger.DebtID(chi.URLParam(r, "id"))
	d, err := h.Book.CancelDebt(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to cancel debt", err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtDTO(*d))
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id := ledger.DebtID(chi.URLParam(r, "id"))
	payments, err := h.Book.ListPayments(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ApplyPayment records one payment against a debt. Retries with the same
// idempotency key replay the original result instead of double-charging.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.DebtID(chi.URLParam(r, "id"))

	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount (use a decimal string)", err)
		return
	}
	var paidAt time.Time
	if req.PaidAt != "" {
		paidAt, err = time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paid_at (use RFC3339)", err)
			return
		}
	}

	res, err := h.Processor.ApplyPayment(r.Context(), id, ledger.PaymentInput{
		Amount:         amount,
		Currency:       req.Currency,
		PaidAt:         paidAt,
		Method:         ledger.PaymentMethod(req.Method),
		RecordedBy:     r.Header.Get("X-Actor"),
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeLedgerError(w, "Failed to apply payment", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toResultDTO(res))
}

// ReversePayment appends the offsetting correction entry.
func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	debtID := ledger.DebtID(chi.URLParam(r, "id"))
	paymentID := ledger.PaymentID(chi.URLParam(r, "paymentID"))

	var req ReversePaymentRequest
	if r.Body != nil {
		// Body is optional for reversals.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	res, err := h.Processor.ReversePayment(r.Context(), debtID, paymentID, ledger.ReversalInput{
		RecordedBy: r.Header.Get("X-Actor"),
		Note:       req.Note,
	})
	if err != nil {
		writeLedgerError(w, "Failed to reverse payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(res))
}

func toResultDTO(res *ledger.Result) PaymentResultDTO {
	dto := PaymentResultDTO{
		Debt:     toDebtDTO(*res.Debt),
		Payment:  toPaymentDTO(*res.Payment),
		Replayed: res.Replayed,
	}
	if res.Credit.IsPositive() {
		dto.Credit = res.Credit.String()
	}
	return dto
}

// =============================================================================
// STATS & REMINDER HANDLERS
// =============================================================================

func (h *Handler) GetPortfolioStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.PortfolioStats(r.Context())
	if err != nil {
		writeLedgerError(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, PortfolioStatsDTO{
		Clients:        stats.Clients,
		Debts:          stats.Debts,
		TotalPrincipal: stats.TotalPrincipal.String(),
		TotalPaid:      stats.TotalPaid.String(),
		TotalOwed:      stats.TotalOwed.String(),
		OpenDebts:      stats.OpenDebts,
		OverdueDebts:   stats.OverdueDebts,
		PaidDebts:      stats.PaidDebts,
		CancelledDebts: stats.CancelledDebts,
		AvgDaysToPay:   stats.AvgDaysToPay,
	})
}

// ListDueReminders exposes the dueForReminder query. The scheduler (or any
// other consumer) decides what to do with the candidates. When the request
// carries no as_of, the ledger's clock supplies it.
func (h *Handler) ListDueReminders(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of (use YYYY-MM-DD)", err)
			return
		}
		asOf = t
	}
	windowDays := 7
	if v := r.URL.Query().Get("window_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid window_days", err)
			return
		}
		windowDays = n
	}

	candidates, err := h.Reminders.DueForReminder(r.Context(), asOf, time.Duration(windowDays)*24*time.Hour)
	if err != nil {
		writeLedgerError(w, "Failed to query reminders", err)
		return
	}
	dtos := make([]ReminderCandidateDTO, len(candidates))
	for i, c := range candidates {
		dtos[i] = ReminderCandidateDTO{Debt: toDebtDTO(c.Debt), Client: toClientDTO(c.Client)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseMoney(s string) (ledger.Money, error) {
	if s == "" {
		return ledger.ZeroMoney(), errors.New("empty amount")
	}
	return ledger.ParseMoney(s)
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

// writeLedgerError maps ledger error kinds onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrOverpayment),
		errors.Is(err, ledger.ErrConcurrentModification),
		errors.Is(err, ledger.ErrPaymentReversed):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
