package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"accounts.api/internal/access"
	"accounts.api/internal/events"
	"accounts.api/internal/ledger"
	"accounts.api/internal/store"
)

type createTransactionRequest struct {
	Type   string           `json:"type"`
	Amount *decimal.Decimal `json:"amount"`
	UserID string           `json:"userId"`
}

type transactionResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	UserID    string    `json:"user_id"`
	MadeBy    string    `json:"made_by"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type transactionDetailResponse struct {
	transactionResponse
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

var maxAmount = decimal.NewFromInt(math.MaxInt64)

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if err := s.policy.Require(p, access.RecordTransactions); err != nil {
		s.fail(w, "transaction_create_failed", err, map[string]any{"actor_id": p.ID})
		return
	}

	var req createTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "transaction_create_failed", err, map[string]any{"actor_id": p.ID})
		return
	}

	input, err := validateCreateTransaction(req)
	if err != nil {
		s.fail(w, "transaction_create_failed", err, map[string]any{
			"actor_id": p.ID,
			"user_id":  req.UserID,
		})
		return
	}
	input.MadeBy = p.ID

	ch, err := s.store.CreateTransaction(r.Context(), input)
	if err != nil {
		s.fail(w, "transaction_create_failed", err, map[string]any{
			"actor_id": p.ID,
			"user_id":  input.UserID,
			"type":     input.Type,
			"amount":   input.Amount,
		})
		return
	}

	s.recordChange(r.Context(), "transaction_created", events.TransactionCreated, ch, p)
	writeData(w, http.StatusCreated, toTransactionResponse(ch.Transaction))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.store.DeleteTransaction, "transaction_deleted", events.TransactionDeleted)
}

func (s *Server) handleUndoTransaction(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.store.UndoTransaction, "transaction_restored", events.TransactionRestored)
}

func (s *Server) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(context.Context, string) (store.Change, error),
	logName string,
	eventName string,
) {
	p := principalFrom(r)
	id := mux.Vars(r)["id"]

	if err := s.policy.Require(p, access.RecordTransactions); err != nil {
		s.fail(w, logName+"_failed", err, map[string]any{"actor_id": p.ID, "transaction_id": id})
		return
	}

	ch, err := apply(r.Context(), id)
	if err != nil {
		s.fail(w, logName+"_failed", err, map[string]any{"actor_id": p.ID, "transaction_id": id})
		return
	}

	s.recordChange(r.Context(), logName, eventName, ch, p)
	writeData(w, http.StatusOK, toTransactionResponse(ch.Transaction))
}

func (s *Server) handleListUserTransactions(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	userID := mux.Vars(r)["userId"]

	if err := s.policy.CanView(p, userID); err != nil {
		s.fail(w, "transactions_list_failed", err, map[string]any{"actor_id": p.ID, "user_id": userID})
		return
	}

	list, err := s.store.ListUserTransactions(r.Context(), userID)
	if err != nil {
		s.fail(w, "transactions_list_failed", err, map[string]any{"actor_id": p.ID, "user_id": userID})
		return
	}
	writeData(w, http.StatusOK, toDetailResponses(list))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if err := s.policy.Require(p, access.ViewAny); err != nil {
		s.fail(w, "transactions_list_failed", err, map[string]any{"actor_id": p.ID})
		return
	}

	includeDeleted := false
	if raw := r.URL.Query().Get("include_deleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, "transactions_list_failed", validationError("include_deleted must be a boolean"), map[string]any{"actor_id": p.ID})
			return
		}
		includeDeleted = v
	}

	list, err := s.store.ListTransactions(r.Context(), includeDeleted)
	if err != nil {
		s.fail(w, "transactions_list_failed", err, map[string]any{"actor_id": p.ID})
		return
	}
	writeData(w, http.StatusOK, toDetailResponses(list))
}

// recordChange logs a committed ledger change and publishes it. Publishing
// happens after commit, so a broker failure is logged but does not fail the
// request.
func (s *Server) recordChange(ctx context.Context, logName, eventName string, ch store.Change, actor access.Principal) {
	t := ch.Transaction
	s.logEvent(logName, map[string]any{
		"transaction_id":  t.ID,
		"user_id":         t.UserID,
		"actor_id":        actor.ID,
		"type":            t.Type,
		"amount":          t.Amount,
		"account_balance": ch.Balance,
	})

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := s.publisher.Publish(pubCtx, events.TransactionEvent{
		Name:          eventName,
		TransactionID: t.ID,
		UserID:        t.UserID,
		MadeBy:        t.MadeBy,
		Type:          string(t.Type),
		Amount:        t.Amount,
		Balance:       ch.Balance,
		ActorID:       actor.ID,
		OccurredAt:    t.UpdatedAt,
	})
	if err != nil {
		s.logger.Printf("publish %s error: %v", eventName, err)
	}
}

// validateCreateTransaction reports missing fields first, then a bad type,
// then a bad amount.
func validateCreateTransaction(req createTransactionRequest) (store.CreateTransactionInput, error) {
	var missing []string
	if req.Amount == nil {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "userId")
	}
	if len(missing) > 0 {
		return store.CreateTransactionInput{}, validationError(strings.Join(missing, ", ") + " is required")
	}

	typ, err := ledger.ParseType(req.Type)
	if err != nil {
		return store.CreateTransactionInput{}, err
	}

	amount, err := minorUnits(*req.Amount, "amount")
	if err != nil {
		return store.CreateTransactionInput{}, err
	}
	if amount == 0 {
		return store.CreateTransactionInput{}, validationError("amount must be greater than zero")
	}

	return store.CreateTransactionInput{
		Type:   typ,
		Amount: amount,
		UserID: strings.TrimSpace(req.UserID),
	}, nil
}

// minorUnits converts a non-negative whole amount to int64.
func minorUnits(d decimal.Decimal, field string) (int64, error) {
	if !d.IsInteger() {
		return 0, validationError(field + " must be a whole number of minor units")
	}
	if d.IsNegative() {
		return 0, validationError(field + " must not be negative")
	}
	if d.GreaterThan(maxAmount) {
		return 0, validationError(field + " is too large")
	}
	return d.IntPart(), nil
}

func toTransactionResponse(t store.Transaction) transactionResponse {
	return transactionResponse{
		ID:        t.ID,
		Type:      string(t.Type),
		Amount:    t.Amount,
		UserID:    t.UserID,
		MadeBy:    t.MadeBy,
		IsDeleted: t.IsDeleted,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toDetailResponses(list []store.TransactionDetail) []transactionDetailResponse {
	out := make([]transactionDetailResponse, 0, len(list))
	for _, d := range list {
		out = append(out, transactionDetailResponse{
			transactionResponse: toTransactionResponse(d.Transaction),
			Email:               d.Email,
			FirstName:           d.FirstName,
			LastName:            d.LastName,
			PhoneNumber:         d.PhoneNumber,
		})
	}
	return out
}
