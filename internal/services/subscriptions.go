package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/data/repos"
	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
	"github.com/aurafin/underwriting-engine/internal/processors"
)

// SubscriptionService manages tenant processor subscriptions and attaches
// them to cases as processor configs.
type SubscriptionService interface {
	Subscribe(ctx context.Context, orgID uuid.UUID, processor string, override map[string]any, priceCents int64) (*domain.Subscription, error)
	AttachCase(ctx context.Context, caseID uuid.UUID) ([]domain.CaseProcessorConfig, error)
	AttachProcessor(ctx context.Context, caseID uuid.UUID, processor string, override map[string]any) (*domain.CaseProcessorConfig, error)
	SetProcessorEnabled(ctx context.Context, caseID uuid.UUID, processor string, enabled bool) error
}

type subscriptionService struct {
	db       *gorm.DB
	log      *logger.Logger
	registry *processors.Registry
	resolver ConfigResolver
	cases    repos.CaseRepo
	subs     repos.SubscriptionRepo
	configs  repos.ProcessorConfigRepo
}

func NewSubscriptionService(
	db *gorm.DB,
	log *logger.Logger,
	registry *processors.Registry,
	resolver ConfigResolver,
	cases repos.CaseRepo,
	subs repos.SubscriptionRepo,
	configs repos.ProcessorConfigRepo,
) SubscriptionService {
	return &subscriptionService{
		db:       db,
		log:      log,
		registry: registry,
		resolver: resolver,
		cases:    cases,
		subs:     subs,
		configs:  configs,
	}
}

func (s *subscriptionService) Subscribe(ctx context.Context, orgID uuid.UUID, processor string, override map[string]any, priceCents int64) (*domain.Subscription, error) {
	if _, ok := s.registry.Get(processor); !ok {
		return nil, fmt.Errorf("processor %q is not registered: %w", processor, apperr.ErrInvalidArgument)
	}
	raw, err := marshalOverride(override)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sub := &domain.Subscription{
		ID:             uuid.New(),
		OrganizationID: orgID,
		ProcessorName:  processor,
		AutoRun:        true,
		PriceCents:     priceCents,
		ConfigOverride: raw,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.subs.Create(dbctx.New(ctx, s.db), sub); err != nil {
		return nil, err
	}
	s.log.Info("subscribed org to processor", "org_id", orgID, "processor", processor)
	return sub, nil
}

// AttachCase creates a processor config for every active subscription of the
// case's tenant that does not already have one. Effective configs are
// resolved and stored up front so dispatch never recomputes them.
func (s *subscriptionService) AttachCase(ctx context.Context, caseID uuid.UUID) ([]domain.CaseProcessorConfig, error) {
	dbc := dbctx.New(ctx, s.db)
	c, err := s.cases.GetByID(dbc, caseID)
	if err != nil {
		return nil, err
	}
	subs, err := s.subs.ListActiveForOrg(dbc, c.OrganizationID)
	if err != nil {
		return nil, err
	}
	existing, err := s.configs.ListForCase(dbc, caseID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(existing))
	for _, cfg := range existing {
		have[cfg.ProcessorName] = struct{}{}
	}

	var created []domain.CaseProcessorConfig
	for i := range subs {
		sub := &subs[i]
		if _, ok := have[sub.ProcessorName]; ok {
			continue
		}
		cfg, err := s.attach(dbc, c, sub, nil)
		if err != nil {
			return nil, err
		}
		created = append(created, *cfg)
	}
	return created, nil
}

func (s *subscriptionService) AttachProcessor(ctx context.Context, caseID uuid.UUID, processor string, override map[string]any) (*domain.CaseProcessorConfig, error) {
	dbc := dbctx.New(ctx, s.db)
	c, err := s.cases.GetByID(dbc, caseID)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.GetByOrgAndProcessor(dbc, c.OrganizationID, processor)
	if err != nil {
		return nil, err
	}
	if !sub.Active {
		return nil, fmt.Errorf("subscription for %s is inactive: %w", processor, apperr.ErrConflict)
	}
	return s.attach(dbc, c, sub, override)
}

func (s *subscriptionService) attach(dbc dbctx.Context, c *domain.Case, sub *domain.Subscription, override map[string]any) (*domain.CaseProcessorConfig, error) {
	proc, ok := s.registry.Get(sub.ProcessorName)
	if !ok {
		return nil, fmt.Errorf("processor %q is not registered: %w", sub.ProcessorName, apperr.ErrInvalidArgument)
	}
	rawOverride, err := marshalOverride(override)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	cfg := &domain.CaseProcessorConfig{
		ID:             uuid.New(),
		OrganizationID: c.OrganizationID,
		CaseID:         c.ID,
		SubscriptionID: sub.ID,
		ProcessorName:  sub.ProcessorName,
		Auto:           sub.AutoRun,
		Enabled:        true,
		ConfigOverride: rawOverride,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	effective, err := s.resolver.Resolve(proc.Definition(), sub, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.EffectiveConfig, err = EncodeConfig(effective); err != nil {
		return nil, err
	}
	if err := s.configs.Create(dbc, cfg); err != nil {
		return nil, err
	}
	s.log.Info("attached processor to case", "case_id", c.ID, "processor", sub.ProcessorName)
	return cfg, nil
}

func (s *subscriptionService) SetProcessorEnabled(ctx context.Context, caseID uuid.UUID, processor string, enabled bool) error {
	dbc := dbctx.New(ctx, s.db)
	cfg, err := s.configs.GetByCaseAndProcessor(dbc, caseID, processor)
	if err != nil {
		return err
	}
	return s.configs.SetEnabled(dbc, cfg.ID, enabled)
}

func marshalOverride(m map[string]any) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
