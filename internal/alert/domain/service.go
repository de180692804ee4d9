package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreateAlertRequest struct {
	OrgID    snowflake.ID
	Type     AlertType
	Title    string
	Message  string
	Severity AlertSeverity
	Metadata map[string]interface{}

	// Email, when set, additionally delivers the alert to this address.
	Email string
}

type Service interface {
	CreateAlert(ctx context.Context, req CreateAlertRequest) (*Alert, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID, limit int) ([]Alert, error)
}
