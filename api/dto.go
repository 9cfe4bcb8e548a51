/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes for the HTTP surface. They decouple the internal domain
  model from the external contract: money travels as decimal strings,
  dates as YYYY-MM-DD, timestamps as RFC3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from callers

VALIDATION:
  Handlers parse and delegate; the ledger core owns the real validation.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// CLIENTS
// =============================================================================

type ClientDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateClientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func toClientDTO(c ledger.Client) ClientDTO {
	return ClientDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		Active:    c.Active,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// DEBTS
// =============================================================================

type DebtDTO struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	Principal   string `json:"principal"`
	Currency    string `json:"currency"`
	Balance     string `json:"balance"`
	Status      string `json:"status"`
	DueDate     string `json:"due_date"`
	CreatedAt   string `json:"created_at"`
	CancelledAt string `json:"cancelled_at,omitempty"`
	Version     int64  `json:"version"`
}

type CreateDebtRequest struct {
	ClientID  string `json:"client_id"`
	Principal string `json:"principal"` // decimal string, e.g. "1000.00"
	Currency  string `json:"currency"`
	DueDate   string `json:"due_date"` // YYYY-MM-DD
}

func toDebtDTO(d ledger.Debt) DebtDTO {
	dto := DebtDTO{
		ID:        string(d.ID),
		ClientID:  string(d.ClientID),
		Principal: d.Principal.String(),
		Currency:  d.Currency,
		Balance:   d.Balance.String(),
		Status:    string(d.Status),
		DueDate:   d.DueDate.Format("2006-01-02"),
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
		Version:   d.Version,
	}
	if d.CancelledAt != nil {
		dto.CancelledAt = d.CancelledAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID             string `json:"id"`
	DebtID         string `json:"debt_id"`
	Amount         string `json:"amount"`
	Kind           string `json:"kind"`
	ReversesID     string `json:"reverses_id,omitempty"`
	PaidAt         string `json:"paid_at"`
	Method         string `json:"method"`
	RecordedBy     string `json:"recorded_by,omitempty"`
	Note           string `json:"note,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type RecordPaymentRequest struct {
	Amount         string `json:"amount"`             // decimal string
	Currency       string `json:"currency,omitempty"` // must match the debt when set
	PaidAt         string `json:"paid_at,omitempty"`  // RFC3339; defaults to now
	Method         string `json:"method,omitempty"`
	Note           string `json:"note,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type ReversePaymentRequest struct {
	Note string `json:"note,omitempty"`
}

// PaymentResultDTO is the reconciliation outcome: the updated debt plus
// the (possibly replayed) payment.
type PaymentResultDTO struct {
	Debt     DebtDTO    `json:"debt"`
	Payment  PaymentDTO `json:"payment"`
	Replayed bool       `json:"replayed,omitempty"`
	Credit   string     `json:"credit,omitempty"`
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             string(p.ID),
		DebtID:         string(p.DebtID),
		Amount:         p.Amount.String(),
		Kind:           string(p.Kind),
		ReversesID:     string(p.ReversesID),
		PaidAt:         p.PaidAt.Format(time.RFC3339),
		Method:         string(p.Method),
		RecordedBy:     p.RecordedBy,
		Note:           p.Note,
		IdempotencyKey: p.IdempotencyKey,
	}
}

// =============================================================================
// STATS & REMINDERS
// =============================================================================

type ClientStatsDTO struct {
	ClientID       string `json:"client_id"`
	TotalPrincipal string `json:"total_principal"`
	TotalPaid      string `json:"total_paid"`
	TotalOwed      string `json:"total_owed"`
	OpenDebts      int    `json:"open_debts"`
	OverdueDebts   int    `json:"overdue_debts"`
	PaidDebts      int    `json:"paid_debts"`
}

type PortfolioStatsDTO struct {
	Clients        int     `json:"clients"`
	Debts          int     `json:"debts"`
	TotalPrincipal string  `json:"total_principal"`
	TotalPaid      string  `json:"total_paid"`
	TotalOwed      string  `json:"total_owed"`
	OpenDebts      int     `json:"open_debts"`
	OverdueDebts   int     `json:"overdue_debts"`
	PaidDebts      int     `json:"paid_debts"`
	CancelledDebts int     `json:"cancelled_debts"`
	AvgDaysToPay   float64 `json:"avg_days_to_pay"`
}

type ReminderCandidateDTO struct {
	Debt   DebtDTO   `json:"debt"`
	Client ClientDTO `json:"client"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
