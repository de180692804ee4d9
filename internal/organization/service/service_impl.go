package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/collecta/internal/organization/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	repo  domain.Repository
	genID *snowflake.Node
	log   *zap.Logger
}

func NewService(repo domain.Repository, genID *snowflake.Node, log *zap.Logger) domain.Service {
	return &service{
		repo:  repo,
		genID: genID,
		log:   log.Named("organization.service"),
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	org := domain.Organization{
		ID:           s.genID.Generate(),
		Name:         name,
		Slug:         slug.Make(name),
		SupportEmail: strings.TrimSpace(req.SupportEmail),
		BillingEmail: strings.TrimSpace(req.BillingEmail),
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, org); err != nil {
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("slug", org.Slug),
	)

	return toResponse(org), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	orgID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, domain.ErrInvalidOrganization
	}

	org, err := s.repo.GetByID(ctx, orgID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, err
	}

	return toResponse(*org), nil
}

func (s *service) List(ctx context.Context) ([]domain.OrganizationResponse, error) {
	orgs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.OrganizationResponse, 0, len(orgs))
	for _, org := range orgs {
		out = append(out, *toResponse(org))
	}
	return out, nil
}

func (s *service) Suspend(ctx context.Context, id snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidOrganization
	}
	if err := s.repo.UpdateStatus(ctx, id, domain.StatusSuspended); err != nil {
		return err
	}
	s.log.Warn("organization suspended", zap.String("org_id", id.String()))
	return nil
}

func (s *service) Reactivate(ctx context.Context, id snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidOrganization
	}
	if err := s.repo.UpdateStatus(ctx, id, domain.StatusActive); err != nil {
		return err
	}
	s.log.Info("organization reactivated", zap.String("org_id", id.String()))
	return nil
}

func toResponse(org domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:           org.ID.String(),
		Name:         org.Name,
		Slug:         org.Slug,
		Status:       org.Status,
		SupportEmail: org.SupportEmail,
		BillingEmail: org.BillingEmail,
	}
}
