package server

import (
	"errors"
	"net/http"

	idempotencydomain "github.com/aquastake/wellflow/internal/idempotency/domain"
	membershipdomain "github.com/aquastake/wellflow/internal/membership/domain"
	payoutdomain "github.com/aquastake/wellflow/internal/payout/domain"
	settlementdomain "github.com/aquastake/wellflow/internal/settlement/domain"
	welldomain "github.com/aquastake/wellflow/internal/well/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type              string            `json:"type"`
	Message           string            `json:"message"`
	Errors            []ValidationError `json:"errors,omitempty"`
	SettlementID      string            `json:"settlement_id,omitempty"`
	ConfirmedAccounts []string          `json:"confirmed_accounts,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

// ErrorHandlingMiddleware converts errors collected on the gin context into
// the JSON error envelope. Handlers report errors with AbortWithError and
// never write error bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "validation error: " + code,
				},
			},
		}
	}

	switch {
	case errors.Is(err, settlementdomain.ErrInvalidState):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state",
			Message: "transition not allowed from current settlement state",
		}
	case errors.Is(err, settlementdomain.ErrPeriodOverlap):
		return http.StatusConflict, errorPayload{
			Type:    "period_overlap",
			Message: "an active settlement already covers part of this period",
		}
	case errors.Is(err, idempotencydomain.ErrKeyConflict):
		return http.StatusConflict, errorPayload{
			Type:    "idempotency_key_conflict",
			Message: "message id was already used for a different operation or target",
		}
	case errors.Is(err, idempotencydomain.ErrInFlight):
		return http.StatusConflict, errorPayload{
			Type:    "idempotency_in_flight",
			Message: "an identical request is still being processed",
		}
	case errors.Is(err, settlementdomain.ErrBusy):
		return http.StatusConflict, errorPayload{
			Type:    "settlement_busy",
			Message: "settlement is locked by another worker",
		}
	case errors.Is(err, membershipdomain.ErrShareMismatch),
		errors.Is(err, payoutdomain.ErrShareMismatch):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "share_mismatch",
			Message: "active investor shares must sum to 10000 basis points",
		}
	case errors.Is(err, welldomain.ErrInvalidFeeConfig),
		errors.Is(err, payoutdomain.ErrInvalidFeeConfig):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "invalid_fee_config",
			Message: "fee configuration is not satisfiable",
		}
	case errors.Is(err, payoutdomain.ErrNoMembers):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "no_members",
			Message: "well has no active investor shares",
		}
	case errors.Is(err, welldomain.ErrNotFound),
		errors.Is(err, membershipdomain.ErrWellNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "well_not_found",
			Message: "well not found",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, settlementdomain.ErrLedgerTransferFailed):
		payload := errorPayload{
			Type:    "ledger_transfer_failed",
			Message: "ledger transfer failed; settlement stays executed with pending payouts",
		}
		var failure *settlementdomain.TransferFailedError
		if errors.As(err, &failure) {
			payload.SettlementID = failure.SettlementID
			payload.ConfirmedAccounts = failure.ConfirmedAccounts
		}
		return http.StatusBadGateway, payload
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, settlementdomain.ErrInvalidID),
		errors.Is(err, settlementdomain.ErrInvalidPeriod),
		errors.Is(err, settlementdomain.ErrInvalidVolume),
		errors.Is(err, settlementdomain.ErrInvalidRevenue),
		errors.Is(err, settlementdomain.ErrInvalidAssetType),
		errors.Is(err, settlementdomain.ErrInvalidToken),
		errors.Is(err, welldomain.ErrInvalidName),
		errors.Is(err, welldomain.ErrInvalidCurrency),
		errors.Is(err, welldomain.ErrInvalidID),
		errors.Is(err, membershipdomain.ErrInvalidWellID),
		errors.Is(err, membershipdomain.ErrInvalidAccount),
		errors.Is(err, membershipdomain.ErrInvalidRole),
		errors.Is(err, membershipdomain.ErrInvalidShare),
		errors.Is(err, membershipdomain.ErrDuplicateShare),
		errors.Is(err, membershipdomain.ErrTooManyOperator),
		errors.Is(err, idempotencydomain.ErrInvalidMessageID),
		errors.Is(err, payoutdomain.ErrInvalidRevenue):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, settlementdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_id", "invalid_well_id":
		return "id"
	case "invalid_period":
		return "period"
	case "invalid_volume":
		return "volume_liters"
	case "invalid_revenue":
		return "gross_revenue"
	case "invalid_asset_type":
		return "asset_type"
	case "invalid_token":
		return "token_id"
	case "invalid_name":
		return "name"
	case "invalid_currency":
		return "currency"
	case "invalid_account", "duplicate_share_account":
		return "account_id"
	case "invalid_role", "too_many_operators":
		return "role"
	case "invalid_share":
		return "share_bps"
	case "invalid_message_id":
		return "message_id"
	default:
		return "request"
	}
}

// classifyErrorForLog buckets an error for the request log without leaking
// message details into log cardinality.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	default:
		return "none", payload.Type
	}
}
