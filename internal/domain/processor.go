package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProcessorCategory is the closed set of processor kinds. The category
// determines how filtration builds payloads (see services.FiltrationService).
type ProcessorCategory string

const (
	CategoryApplication ProcessorCategory = "application"
	CategoryStipulation ProcessorCategory = "stipulation"
	CategoryDocument    ProcessorCategory = "document"
)

// TriggerSet is the predicate data deciding whether a processor is eligible
// for a case. Application processors trigger on flattened field paths,
// stipulation/document processors on document classifications.
type TriggerSet struct {
	ApplicationForm []string `json:"application_form,omitempty"`
	DocumentsList   []string `json:"documents_list,omitempty"`
}

// Config is an effective processor configuration.
type Config map[string]any

func (c Config) Int(key string, def int) int {
	v, ok := c[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return def
}

func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

// Subscription is a tenant-level purchase of a processor. It gates which
// processors may run for the tenant's cases and carries tenant config
// overrides and pricing.
type Subscription struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null;index:idx_org_processor,unique" json:"organization_id"`
	ProcessorName  string         `gorm:"column:processor;not null;index:idx_org_processor,unique" json:"processor"`
	AutoRun        bool           `gorm:"column:auto_run;not null;default:true" json:"auto_run"`
	PriceCents     int64          `gorm:"column:price_cents;not null;default:0" json:"price_cents"`
	ConfigOverride datatypes.JSON `gorm:"column:config_override;type:jsonb" json:"config_override"`
	Active         bool           `gorm:"column:active;not null;default:true;index" json:"active"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "processor_subscription" }

// CaseProcessorConfig links a case to a subscribed processor. Its
// current_executions_list is the authoritative set of execution ids that
// count toward consolidation; execution status alone never decides
// membership. Version guards serialize list updates.
type CaseProcessorConfig struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	CaseID            uuid.UUID      `gorm:"type:uuid;not null;index:idx_case_processor,unique" json:"case_id"`
	SubscriptionID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"subscription_id"`
	ProcessorName     string         `gorm:"column:processor;not null;index:idx_case_processor,unique" json:"processor"`
	Auto              bool           `gorm:"column:auto;not null;default:true" json:"auto"`
	Enabled           bool           `gorm:"column:enabled;not null;default:true" json:"enabled"`
	ConfigOverride    datatypes.JSON `gorm:"column:config_override;type:jsonb" json:"config_override"`
	EffectiveConfig   datatypes.JSON `gorm:"column:effective_config;type:jsonb" json:"effective_config"`
	CurrentExecutions datatypes.JSON `gorm:"column:current_executions_list;type:jsonb" json:"current_executions_list"`
	Version           int64          `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
}

func (CaseProcessorConfig) TableName() string { return "case_processor_config" }

// CurrentExecutionIDs decodes the current_executions_list column.
func (c *CaseProcessorConfig) CurrentExecutionIDs() ([]uuid.UUID, error) {
	if c == nil || len(c.CurrentExecutions) == 0 {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal(c.CurrentExecutions, &raw); err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// EncodeExecutionIDs renders an execution id list for the
// current_executions_list column.
func EncodeExecutionIDs(ids []uuid.UUID) (datatypes.JSON, error) {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
