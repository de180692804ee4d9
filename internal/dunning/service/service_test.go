package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	alertdomain "github.com/smallbiznis/collecta/internal/alert/domain"
	alertservice "github.com/smallbiznis/collecta/internal/alert/service"
	"github.com/smallbiznis/collecta/internal/clock"
	"github.com/smallbiznis/collecta/internal/config"
	"github.com/smallbiznis/collecta/internal/dunning/domain"
	dunningrepo "github.com/smallbiznis/collecta/internal/dunning/repository"
	invoicedomain "github.com/smallbiznis/collecta/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/collecta/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/collecta/internal/invoice/service"
	orgdomain "github.com/smallbiznis/collecta/internal/organization/domain"
	orgrepo "github.com/smallbiznis/collecta/internal/organization/repository"
	orgservice "github.com/smallbiznis/collecta/internal/organization/service"
	"github.com/smallbiznis/collecta/internal/providers/email"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db    *gorm.DB
	svc   domain.Service
	repo  domain.Repository
	clock *clock.FakeClock
	node  *snowflake.Node
	orgID snowflake.ID
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, config.DunningConfig{
		MaxStepAttempts: 3,
		RetryBackoff:    24 * time.Hour,
		SweepBatchSize:  10,
	})
}

func newTestEnvWithConfig(t *testing.T, dcfg config.DunningConfig) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	createSchema(t, db)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(testStart)
	log := zaptest.NewLogger(t)

	invoiceSvc := invoiceservice.NewService(invoicerepo.NewRepository(db), nil, log)
	orgSvc := orgservice.NewService(orgrepo.NewRepository(db), node, log)
	alertSvc := alertservice.NewService(db, &email.NoOpProvider{}, nil, node, log)
	repo := dunningrepo.NewRepository(db)

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		Repo:       repo,
		InvoiceSvc: invoiceSvc,
		OrgSvc:     orgSvc,
		AlertSvc:   alertSvc,
		GenID:      node,
		Clock:      fake,
		Config:     config.Config{Dunning: dcfg},
	})

	env := &testEnv{db: db, svc: svc, repo: repo, clock: fake, node: node}
	env.orgID = env.seedOrganization(t, "Acme Corp")
	return env
}

func createSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, stmt := range []string{
		`CREATE TABLE organizations (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			support_email TEXT,
			billing_email TEXT,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			suspended_at TIMESTAMP,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			invoice_number TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			total_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			issued_at TIMESTAMP,
			due_at TIMESTAMP,
			paid_at TIMESTAMP,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE alerts (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE dunning_processes (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			invoice_id BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			current_step INTEGER NOT NULL DEFAULT 0,
			total_steps INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			last_action_at TIMESTAMP,
			next_action_at TIMESTAMP,
			completed_at TIMESTAMP,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE dunning_steps (
			id BIGINT PRIMARY KEY,
			process_id BIGINT NOT NULL,
			step_number INTEGER NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			version BIGINT NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			scheduled_at TIMESTAMP NOT NULL,
			executed_at TIMESTAMP,
			delay_days INTEGER NOT NULL,
			template TEXT,
			escalation_level TEXT NOT NULL DEFAULT 'low',
			requires_manual_approval BOOLEAN NOT NULL DEFAULT FALSE,
			result_success BOOLEAN,
			result_message TEXT,
			result_next_retry_at TIMESTAMP,
			result_metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE dunning_approvals (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			process_id BIGINT NOT NULL,
			step_id BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			requested_at TIMESTAMP NOT NULL,
			last_notified_at TIMESTAMP,
			decided_at TIMESTAMP,
			decided_by TEXT,
			note TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE dunning_reports (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL DEFAULT 0,
			period_start TIMESTAMP NOT NULL,
			period_end TIMESTAMP NOT NULL,
			total_processes INTEGER NOT NULL,
			completed_count INTEGER NOT NULL,
			active_count INTEGER NOT NULL,
			cancelled_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			total_recovered BIGINT NOT NULL,
			total_written_off BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	} {
		require.NoError(t, db.Exec(stmt).Error)
	}
}

func (e *testEnv) seedOrganization(t *testing.T, name string) snowflake.ID {
	t.Helper()
	org := orgdomain.Organization{
		ID:           e.node.Generate(),
		Name:         name,
		Slug:         strings.ToLower(strings.ReplaceAll(name, " ", "-")),
		BillingEmail: "billing@acme.test",
		Status:       orgdomain.StatusActive,
		Metadata:     datatypes.JSONMap{},
		CreatedAt:    testStart,
		UpdatedAt:    testStart,
	}
	require.NoError(t, e.db.Create(&org).Error)
	return org.ID
}

func (e *testEnv) seedInvoice(t *testing.T, status invoicedomain.InvoiceStatus, overdueBy time.Duration) *invoicedomain.Invoice {
	t.Helper()
	dueAt := e.clock.Now().Add(-overdueBy)
	inv := invoicedomain.Invoice{
		ID:            e.node.Generate(),
		OrgID:         e.orgID,
		InvoiceNumber: fmt.Sprintf("INV-%d", e.node.Generate().Int64()%100000),
		Status:        status,
		TotalAmount:   12500,
		Currency:      "USD",
		DueAt:         &dueAt,
		Metadata:      datatypes.JSONMap{},
		CreatedAt:     testStart,
		UpdatedAt:     testStart,
	}
	require.NoError(t, e.db.Create(&inv).Error)
	return &inv
}

// immediateSteps builds custom step specs all starting day zero apart, so
// the first one is due right away.
func immediateSteps(types ...domain.StepType) []domain.StepSpec {
	specs := make([]domain.StepSpec, 0, len(types))
	for i, st := range types {
		specs = append(specs, domain.StepSpec{
			Type:            st,
			DelayDays:       i,
			EscalationLevel: domain.EscalationLow,
		})
	}
	return specs
}

func (e *testEnv) mustGetProcess(t *testing.T, id snowflake.ID) *domain.DunningProcess {
	t.Helper()
	p, err := e.repo.GetProcess(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) mustListSteps(t *testing.T, processID snowflake.ID) []domain.DunningStep {
	t.Helper()
	steps, err := e.repo.ListSteps(context.Background(), processID)
	require.NoError(t, err)
	return steps
}

func (e *testEnv) countAlerts(t *testing.T, alertType alertdomain.AlertType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Raw(
		`SELECT COUNT(1) FROM alerts WHERE type = ?`, alertType,
	).Scan(&count).Error)
	return count
}
