package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	auditdomain "github.com/helixconsole/billing/internal/audit/domain"
	creditsdomain "github.com/helixconsole/billing/internal/credits/domain"
	"github.com/helixconsole/billing/internal/idempotency"
	invoicedomain "github.com/helixconsole/billing/internal/invoiceview/domain"
	meterdomain "github.com/helixconsole/billing/internal/meter/domain"
	orgdomain "github.com/helixconsole/billing/internal/organization/domain"
	processordomain "github.com/helixconsole/billing/internal/processor/domain"
	subdomain "github.com/helixconsole/billing/internal/subscription/domain"
)

var ErrInvalidRequest = errors.New("invalid_request")

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware turns domain sentinels and processor error kinds
// into HTTP responses after the handler chain runs.
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

// AbortWithError records err for the error middleware and stops the chain.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var procErr *processordomain.Error
	if errors.As(err, &procErr) {
		return mapProcessorError(procErr)
	}

	switch {
	case isPreconditionError(err):
		return http.StatusPreconditionFailed, errorPayload{
			Type:    "precondition_failed",
			Message: err.Error(),
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, idempotency.ErrDuplicateOperation):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "operation already in progress",
		}
	case errors.Is(err, subdomain.ErrPromotionNewCustomersOnly):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func mapProcessorError(err *processordomain.Error) (int, errorPayload) {
	message := err.Error()
	switch err.Kind {
	case processordomain.KindBadRequest:
		return http.StatusBadRequest, errorPayload{Type: "bad_request", Message: message}
	case processordomain.KindUnauthorized:
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: message}
	case processordomain.KindForbidden:
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: message}
	case processordomain.KindNotFound:
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: message}
	case processordomain.KindConflict:
		return http.StatusConflict, errorPayload{Type: "conflict", Message: message}
	case processordomain.KindRateLimited:
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: message}
	case processordomain.KindTimeout:
		return http.StatusGatewayTimeout, errorPayload{Type: "timeout", Message: message}
	case processordomain.KindPrecondition:
		return http.StatusPreconditionFailed, errorPayload{Type: "precondition_failed", Message: message}
	default:
		return http.StatusBadGateway, errorPayload{Type: "processor_error", Message: message}
	}
}

func isPreconditionError(err error) bool {
	switch {
	case errors.Is(err, subdomain.ErrManualPlan),
		errors.Is(err, subdomain.ErrNoSubscription),
		errors.Is(err, invoicedomain.ErrNoCustomer):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, subdomain.ErrInvalidProduct),
		errors.Is(err, subdomain.ErrInvalidPromotion),
		errors.Is(err, creditsdomain.ErrInvalidPaymentEvent),
		errors.Is(err, creditsdomain.ErrInvalidCreditAmount),
		errors.Is(err, creditsdomain.ErrInvalidOrganization),
		errors.Is(err, invoicedomain.ErrInvalidCursors),
		errors.Is(err, invoicedomain.ErrInvalidPageSize),
		errors.Is(err, meterdomain.ErrInvalidMeterCode),
		errors.Is(err, meterdomain.ErrInvalidValue),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidOrganization):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, orgdomain.ErrOrganizationNotFound),
		errors.Is(err, creditsdomain.ErrOrganizationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) (string, string) {
	var procErr *processordomain.Error
	if errors.As(err, &procErr) {
		return "processor_error", string(procErr.Kind)
	}
	switch {
	case isPreconditionError(err):
		return "precondition_failed", err.Error()
	case isValidationError(err):
		return "validation_error", err.Error()
	case isNotFoundError(err):
		return "not_found", err.Error()
	default:
		return "internal_error", ""
	}
}
