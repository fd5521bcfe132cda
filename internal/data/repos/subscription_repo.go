package repos

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

type SubscriptionRepo interface {
	Create(dbc dbctx.Context, s *domain.Subscription) error
	GetByOrgAndProcessor(dbc dbctx.Context, orgID uuid.UUID, processor string) (*domain.Subscription, error)
	ListActiveForOrg(dbc dbctx.Context, orgID uuid.UUID) ([]domain.Subscription, error)
	SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error
}

type subscriptionRepo struct {
	log *logger.Logger
}

func NewSubscriptionRepo(log *logger.Logger) SubscriptionRepo {
	return &subscriptionRepo{log: log}
}

func (r *subscriptionRepo) Create(dbc dbctx.Context, s *domain.Subscription) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(s).Error; err != nil {
		r.log.Error("failed to create subscription", "org_id", s.OrganizationID, "processor", s.ProcessorName, "error", err)
		return err
	}
	return nil
}

func (r *subscriptionRepo) GetByOrgAndProcessor(dbc dbctx.Context, orgID uuid.UUID, processor string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("organization_id = ? AND processor = ?", orgID, processor).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepo) ListActiveForOrg(dbc dbctx.Context, orgID uuid.UUID) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("organization_id = ? AND active = ?", orgID, true).
		Order("processor asc").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *subscriptionRepo) SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error {
	res := dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.Subscription{}).
		Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func unmarshalJSON(raw []byte, out any) error {
	return json.Unmarshal(raw, out)
}
