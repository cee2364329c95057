package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/payments"
	dErrors "custodia/pkg/domain-errors"
)

// PaymentService is the slice of the payments service the router needs.
type PaymentService interface {
	Charge(ctx context.Context, params payments.ChargeParams) (payments.Transaction, error)
	Refund(ctx context.Context, originalID string) (payments.Transaction, error)
	Get(ctx context.Context, id string) (payments.Transaction, error)
	List(ctx context.Context, filter payments.Filter) ([]payments.Transaction, error)
}

// transactionResponse never includes the card token; the last four digits
// are the only card-derived value that leaves the service boundary.
type transactionResponse struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	CardholderName string `json:"cardholder_name,omitempty"`
	CardLastFour   string `json:"card_last_four"`
	Status         string `json:"status"`
	RefundOf       string `json:"refund_of,omitempty"`
	ProcessedAt    string `json:"processed_at"`
}

func toTransactionResponse(t payments.Transaction) transactionResponse {
	return transactionResponse{
		ID:             t.ID,
		Amount:         t.Amount,
		Currency:       t.Currency,
		CardholderName: t.CardholderName,
		CardLastFour:   t.CardLastFour,
		Status:         string(t.Status),
		RefundOf:       t.RefundOf,
		ProcessedAt:    t.ProcessedAt.UTC().Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func handleCharge(svc PaymentService) http.HandlerFunc {
	type request struct {
		Amount         int64  `json:"amount"`
		Currency       string `json:"currency"`
		CardholderName string `json:"cardholder_name"`
		CardNumber     string `json:"card_number"`
		CVV            string `json:"cvv"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		txn, err := svc.Charge(r.Context(), payments.ChargeParams{
			Amount:         req.Amount,
			Currency:       req.Currency,
			CardholderName: req.CardholderName,
			CardNumber:     req.CardNumber,
			CVV:            req.CVV,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTransactionResponse(txn))
	}
}

func handleRefund(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, err := svc.Refund(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTransactionResponse(txn))
	}
}

func handlePaymentGet(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransactionResponse(txn))
	}
}

func handlePaymentList(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter payments.Filter
		if status := r.URL.Query().Get("status"); status != "" {
			s := payments.Status(status)
			switch s {
			case payments.StatusPending, payments.StatusApproved, payments.StatusDeclined, payments.StatusRefunded:
				filter.Status = s
			default:
				writeError(w, dErrors.New(dErrors.CodeValidation, "invalid status filter"))
				return
			}
		}
		list, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]transactionResponse, 0, len(list))
		for _, t := range list {
			out = append(out, toTransactionResponse(t))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
