package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	dunningdomain "github.com/smallbiznis/collecta/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/collecta/internal/invoice/domain"
	organizationdomain "github.com/smallbiznis/collecta/internal/organization/domain"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"process not found", dunningdomain.ErrProcessNotFound, http.StatusNotFound, "not_found"},
		{"approval not found", dunningdomain.ErrApprovalNotFound, http.StatusNotFound, "not_found"},
		{"invoice not found", invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, "not_found"},
		{"organization not found", organizationdomain.ErrOrganizationNotFound, http.StatusNotFound, "not_found"},
		{"unknown template", dunningdomain.ErrTemplateNotFound, http.StatusBadRequest, "invalid_request"},
		{"bad steps", dunningdomain.ErrInvalidSteps, http.StatusBadRequest, "invalid_request"},
		{"access denied", dunningdomain.ErrAccessDenied, http.StatusForbidden, "access_denied"},
		{"wrapped state error", dunningdomain.ErrProcessNotActive, http.StatusForbidden, "access_denied"},
		{"double wrapped", fmt.Errorf("pause: %w", dunningdomain.ErrProcessTerminal), http.StatusForbidden, "access_denied"},
		{"settled invoice", invoicedomain.ErrInvoiceSettled, http.StatusConflict, "conflict"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, payload.Code)
		})
	}
}

func TestMapErrorValidationDetails(t *testing.T) {
	verrs := &ValidationErrors{}
	verrs.Add("invoice_id", "invoice_id is required")
	verrs.Add("steps", "delay_days must be strictly increasing")

	status, payload := mapError(verrs)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", payload.Code)
	assert.Len(t, payload.Details, 2)
	assert.Equal(t, "invoice_id", payload.Details[0].Field)
}

func TestMapErrorHidesInternalMessage(t *testing.T) {
	_, payload := mapError(errors.New("pq: connection refused"))
	assert.Equal(t, "internal server error", payload.Message)
	assert.NotContains(t, payload.Message, "pq:")
}

func TestClassifyErrorForLog(t *testing.T) {
	assert.Equal(t, "warn", classifyErrorForLog(dunningdomain.ErrProcessNotFound))
	assert.Equal(t, "warn", classifyErrorForLog(dunningdomain.ErrAccessDenied))
	assert.Equal(t, "error", classifyErrorForLog(errors.New("boom")))
}
