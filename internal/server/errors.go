package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	dunningdomain "github.com/smallbiznis/collecta/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/collecta/internal/invoice/domain"
	organizationdomain "github.com/smallbiznis/collecta/internal/organization/domain"
)

// ValidationError describes a single bad request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors aggregates request validation failures.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return "validation failed: " + e.Errors[0].Field
}

func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, ValidationError{Field: field, Message: message})
}

func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

type errorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details []ValidationError `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware converts handler errors into JSON responses
// with a stable error code vocabulary.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		status, payload := mapError(c.Errors.Last().Err)
		c.JSON(status, errorResponse{Error: payload})
	}
}

// AbortWithError records err on the context for the error middleware.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var verrs *ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, errorPayload{
			Code:    "invalid_request",
			Message: "request validation failed",
			Details: verrs.Errors,
		}
	}

	switch {
	case errors.Is(err, dunningdomain.ErrProcessNotFound),
		errors.Is(err, dunningdomain.ErrApprovalNotFound),
		errors.Is(err, dunningdomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationNotFound):
		return http.StatusNotFound, errorPayload{
			Code:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, dunningdomain.ErrTemplateNotFound),
		errors.Is(err, dunningdomain.ErrInvalidSteps),
		errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidOrganization):
		return http.StatusBadRequest, errorPayload{
			Code:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, dunningdomain.ErrAccessDenied):
		return http.StatusForbidden, errorPayload{
			Code:    "access_denied",
			Message: err.Error(),
		}
	case errors.Is(err, invoicedomain.ErrInvoiceSettled):
		return http.StatusConflict, errorPayload{
			Code:    "conflict",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog keeps expected client errors out of the error log.
func classifyErrorForLog(err error) string {
	status, _ := mapError(err)
	if status < http.StatusInternalServerError {
		return "warn"
	}
	return "error"
}
