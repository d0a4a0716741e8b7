package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

const (
	maxBodyBytes = 64 * 1024
	maxIDLen     = 255

	codeValidation         = "validation_error"
	codeInvalidPaymentType = "invalid_payment_type"
	codeMissingCardToken   = "missing_card_token"
	codePlanNotFound       = "plan_not_found"
	codeAccountNotFound    = "account_not_found"
	codeProviderError      = "provider_unavailable"
	codeInternal           = "internal_error"
)

// Handler provides the create-payment and account endpoints
type Handler struct {
	config Config
}

// apiError carries the status and code a failure is reported with
type apiError struct {
	status int
	code   string
	err    error
}

func (e *apiError) Error() string { return e.err.Error() }
func (e *apiError) Unwrap() error { return e.err }

// CreatePayment validates the request, makes sure the payer has an account
// and returns a PaymentIntent priced from the catalog.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.handleError(w, r, &apiError{http.StatusMethodNotAllowed, codeValidation, errors.New("method not allowed")})
		return
	}
	ctx := r.Context()

	var req CreatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, r, &apiError{http.StatusBadRequest, codeValidation, err})
		return
	}
	if err := h.config.Validator.StructCtx(ctx, &req); err != nil {
		h.handleError(w, r, &apiError{http.StatusBadRequest, codeValidation, validationMessage(err)})
		return
	}

	intent, err := h.config.Factory.Create(ctx, toIntentRequest(&req))
	if err != nil {
		h.handleError(w, r, classify(err))
		return
	}

	if _, err := upgrade.EnsureAccount(ctx, h.config.Store, intent.PayerRef); err != nil {
		h.handleError(w, r, fmt.Errorf("ensure account %s: %w", intent.PayerRef, err))
		return
	}

	if h.config.Submitter != nil {
		if err := h.config.Submitter.SubmitIntent(ctx, intent); err != nil {
			h.handleError(w, r, classify(err))
			return
		}
	}

	h.config.Logger.Debug("payment intent returned",
		upgrade.Field{Key: "intent_id", Value: intent.ID},
		upgrade.Field{Key: "submitted", Value: h.config.Submitter != nil},
	)
	writeJSON(w, http.StatusOK, Response{Success: true, Data: intent})
}

// GetAccount returns the account's effective plan and payment history
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(h.config.GetAccountID(r))
	if accountID == "" || len(accountID) > maxIDLen {
		h.handleError(w, r, &apiError{http.StatusBadRequest, codeValidation, errors.New("invalid account id")})
		return
	}

	acct, err := h.config.Store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, upgrade.ErrAccountNotFound) {
			h.handleError(w, r, &apiError{http.StatusNotFound, codeAccountNotFound, err})
			return
		}
		h.handleError(w, r, fmt.Errorf("failed to get account: %w", err))
		return
	}

	history := acct.PaymentHistory
	if history == nil {
		history = []upgrade.PaymentEntry{}
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: AccountResponse{
		ID:             acct.ID,
		Plan:           acct.EffectivePlan(h.config.Clock()),
		PlanExpiry:     acct.PlanExpiry,
		PaymentHistory: history,
	}})
}

func toIntentRequest(req *CreatePaymentRequest) upgrade.CreateIntentRequest {
	out := upgrade.CreateIntentRequest{
		PlanID: req.PlanID,
		Method: req.Type,
		Amount: req.Amount,
		Payer: upgrade.Payer{
			UserID: strings.TrimSpace(req.UserData.ID),
			Email:  req.UserData.Email,
			Name:   req.UserData.Name,
		},
	}
	if c := req.CardData; c != nil {
		out.Card = &upgrade.CardDetails{
			Token:                c.Token,
			Installments:         c.Installments,
			PaymentMethodID:      c.PaymentMethodID,
			IssuerID:             c.IssuerID,
			IdentificationType:   c.IdentificationType,
			IdentificationNumber: c.IdentificationNumber,
		}
	}
	return out
}

func classify(err error) error {
	switch {
	case errors.Is(err, upgrade.ErrInvalidPaymentType):
		return &apiError{http.StatusBadRequest, codeInvalidPaymentType, err}
	case errors.Is(err, upgrade.ErrMissingCardToken):
		return &apiError{http.StatusBadRequest, codeMissingCardToken, err}
	case errors.Is(err, upgrade.ErrPlanNotFound):
		return &apiError{http.StatusBadRequest, codePlanNotFound, err}
	case upgrade.IsValidation(err):
		return &apiError{http.StatusBadRequest, codeValidation, err}
	case errors.Is(err, upgrade.ErrProviderUnavailable):
		return &apiError{http.StatusBadGateway, codeProviderError, err}
	default:
		return err
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validationMessage flattens validator errors into "field: tag" pairs
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", upgrade.ErrValidation, strings.Join(parts, ", "))
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	status, code, msg := http.StatusInternalServerError, codeInternal, "internal error"
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		status, code, msg = apiErr.status, apiErr.code, apiErr.err.Error()
	}
	if status >= http.StatusInternalServerError {
		h.config.Logger.Error("api request failed",
			upgrade.Field{Key: "path", Value: r.URL.Path},
			upgrade.Field{Key: "error", Value: err},
		)
	}
	writeJSON(w, status, Response{Success: false, Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(v); encodeErr != nil {
		// Response already started
		_ = encodeErr
	}
}
