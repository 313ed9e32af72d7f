package metadata

import "strings"

// TableMetadata is the typed form of a table comment's JSON configuration.
type TableMetadata struct {
	Permissions      map[string][]string     `mapstructure:"permissions"`
	RowLevelSecurity RowLevelSecurity        `mapstructure:"row_level_security"`
	Behaviors        Behaviors               `mapstructure:"behaviors"`
	ListView         ListView                `mapstructure:"list_view"`
	ValidationRules  ValidationRules         `mapstructure:"validation_rules"`
	BusinessRules    BusinessRules           `mapstructure:"business_rules"`
	Notifications    Notifications           `mapstructure:"notifications"`
	ManyToMany       []ManyToMany            `mapstructure:"many_to_many" validate:"dive"`
	VirtualFields    map[string]VirtualField `mapstructure:"virtual_fields" validate:"dive"`
}

// RowLevelSecurity restricts rows to their owner unless the actor holds
// one of the capabilities.
type RowLevelSecurity struct {
	Enabled      bool     `mapstructure:"enabled"`
	OwnerField   string   `mapstructure:"owner_field" validate:"omitempty,identifier"`
	Capabilities []string `mapstructure:"capabilities"`
}

type Behaviors struct {
	SoftDeletes SoftDeletes  `mapstructure:"soft_deletes"`
	Timestamps  *Timestamps  `mapstructure:"timestamps"`
	Sluggable   *Sluggable   `mapstructure:"sluggable"`
	Audit       *AuditConfig `mapstructure:"audit"`
}

type SoftDeletes struct {
	Enabled bool   `mapstructure:"enabled"`
	Column  string `mapstructure:"column" validate:"omitempty,identifier"`
}

type Timestamps struct {
	CreatedAt string `mapstructure:"created_at" validate:"omitempty,identifier"`
	UpdatedAt string `mapstructure:"updated_at" validate:"omitempty,identifier"`
}

type Sluggable struct {
	Source    string `mapstructure:"source" validate:"required,identifier"`
	Target    string `mapstructure:"target" validate:"required,identifier"`
	Separator string `mapstructure:"separator" validate:"max=3"`
	Lowercase *bool  `mapstructure:"lowercase"`
	Unique    bool   `mapstructure:"unique"`
}

type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ListView struct {
	Columns       []string `mapstructure:"columns" validate:"dive,identifier"`
	PerPage       int      `mapstructure:"per_page" validate:"gte=0,lte=1000"`
	DefaultSort   string   `mapstructure:"default_sort" validate:"omitempty,identifier"`
	SortDirection string   `mapstructure:"sort_direction" validate:"omitempty,oneof=asc desc"`
	Searchable    []string `mapstructure:"searchable" validate:"dive,identifier"`
}

type ValidationRules struct {
	UniqueTogether [][]string                `mapstructure:"unique_together" validate:"dive,min=1,dive,identifier"`
	RequiredIf     map[string]map[string]any `mapstructure:"required_if"`
	Conditional    []ConditionalRule         `mapstructure:"conditional" validate:"dive"`
}

// ConditionalRule bounds Field by Min/Max only while Condition holds.
type ConditionalRule struct {
	Field     string   `mapstructure:"field" validate:"required,identifier"`
	Condition string   `mapstructure:"condition" validate:"required"`
	Required  bool     `mapstructure:"required"`
	Min       *float64 `mapstructure:"min"`
	Max       *float64 `mapstructure:"max"`
	Message   string   `mapstructure:"message"`
}

type BusinessRules struct {
	MaxRecordsPerUser int    `mapstructure:"max_records_per_user" validate:"gte=0"`
	OwnerField        string `mapstructure:"owner_field" validate:"omitempty,identifier"`
	RequireApproval   bool   `mapstructure:"require_approval"`
	ApprovalField     string `mapstructure:"approval_field" validate:"omitempty,identifier"`
}

type Notifications struct {
	Email    *EmailNotification    `mapstructure:"email"`
	Webhooks []WebhookNotification `mapstructure:"webhooks" validate:"dive"`
}

type EmailNotification struct {
	Enabled    bool     `mapstructure:"enabled"`
	Events     []string `mapstructure:"events" validate:"dive,oneof=create update delete"`
	Recipients []string `mapstructure:"recipients" validate:"dive,email"`
	Subject    string   `mapstructure:"subject"`
}

type WebhookNotification struct {
	URL       string            `mapstructure:"url" validate:"required,url"`
	Method    string            `mapstructure:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Events    []string          `mapstructure:"events" validate:"dive,oneof=create update delete"`
	Headers   map[string]string `mapstructure:"headers"`
	Condition string            `mapstructure:"condition"`
}

type ManyToMany struct {
	Field      string `mapstructure:"field" validate:"required,identifier"`
	PivotTable string `mapstructure:"pivot_table" validate:"required,identifier"`
	LocalKey   string `mapstructure:"local_key" validate:"required,identifier"`
	ForeignKey string `mapstructure:"foreign_key" validate:"required,identifier"`
}

// VirtualField is accepted and validated but never persisted.
type VirtualField struct {
	Label     string `mapstructure:"label"`
	Required  bool   `mapstructure:"required"`
	Matches   string `mapstructure:"matches" validate:"omitempty,identifier"`
	MinLength int    `mapstructure:"minlength" validate:"gte=0"`
}

func (m *TableMetadata) applyDefaults() {
	if m.Behaviors.SoftDeletes.Enabled && m.Behaviors.SoftDeletes.Column == "" {
		m.Behaviors.SoftDeletes.Column = "deleted_at"
	}
	if ts := m.Behaviors.Timestamps; ts != nil {
		if ts.CreatedAt == "" {
			ts.CreatedAt = "created_at"
		}
		if ts.UpdatedAt == "" {
			ts.UpdatedAt = "updated_at"
		}
	}
	if sl := m.Behaviors.Sluggable; sl != nil {
		if sl.Separator == "" {
			sl.Separator = "-"
		}
		if sl.Lowercase == nil {
			lower := true
			sl.Lowercase = &lower
		}
	}
	if m.ListView.PerPage == 0 {
		m.ListView.PerPage = 25
	}
	if m.ListView.SortDirection == "" {
		m.ListView.SortDirection = "desc"
	}
	if m.BusinessRules.RequireApproval && m.BusinessRules.ApprovalField == "" {
		m.BusinessRules.ApprovalField = "approved_at"
	}
	for i := range m.Notifications.Webhooks {
		if m.Notifications.Webhooks[i].Method == "" {
			m.Notifications.Webhooks[i].Method = "POST"
		}
	}
}

// Roles returns the roles allowed to perform action. ok is false when the
// action has no configured roles at all.
func (m *TableMetadata) Roles(action string) (roles []string, ok bool) {
	roles, ok = m.Permissions[action]
	return roles, ok
}

// SoftDeleteColumn returns the timestamp column used for soft deletes.
func (m *TableMetadata) SoftDeleteColumn() (string, bool) {
	sd := m.Behaviors.SoftDeletes
	return sd.Column, sd.Enabled
}

// TimestampFields returns the created/updated column names.
func (m *TableMetadata) TimestampFields() (created, updated string, ok bool) {
	ts := m.Behaviors.Timestamps
	if ts == nil {
		return "", "", false
	}
	return ts.CreatedAt, ts.UpdatedAt, true
}

// SlugConfig returns the sluggable behavior, if configured.
func (m *TableMetadata) SlugConfig() (Sluggable, bool) {
	if m.Behaviors.Sluggable == nil {
		return Sluggable{}, false
	}
	return *m.Behaviors.Sluggable, true
}

// Lowercased reports whether generated slugs are lowercased.
func (s Sluggable) Lowercased() bool {
	return s.Lowercase == nil || *s.Lowercase
}

// AuditEnabled resolves the per-table audit switch against the engine default.
func (m *TableMetadata) AuditEnabled(engineDefault bool) bool {
	if m.Behaviors.Audit != nil {
		return m.Behaviors.Audit.Enabled
	}
	return engineDefault
}

// OwnerField is the column holding the owning actor id.
func (m *TableMetadata) OwnerField() string {
	if m.BusinessRules.OwnerField != "" {
		return m.BusinessRules.OwnerField
	}
	if m.RowLevelSecurity.OwnerField != "" {
		return m.RowLevelSecurity.OwnerField
	}
	return "user_id"
}

// ApprovalField returns the approval timestamp column when approval is required.
func (m *TableMetadata) ApprovalField() (string, bool) {
	return m.BusinessRules.ApprovalField, m.BusinessRules.RequireApproval
}

// EmailFor returns the email notification config for event.
func (m *TableMetadata) EmailFor(event string) (EmailNotification, bool) {
	e := m.Notifications.Email
	if e == nil || !e.Enabled {
		return EmailNotification{}, false
	}
	if len(e.Events) > 0 && !containsFold(e.Events, event) {
		return EmailNotification{}, false
	}
	return *e, true
}

// WebhooksFor returns the webhooks subscribed to event. Webhooks without
// an event list receive every event.
func (m *TableMetadata) WebhooksFor(event string) []WebhookNotification {
	var out []WebhookNotification
	for _, wh := range m.Notifications.Webhooks {
		if len(wh.Events) == 0 || containsFold(wh.Events, event) {
			out = append(out, wh)
		}
	}
	return out
}

// Relation finds the many-to-many relation bound to field.
func (m *TableMetadata) Relation(field string) (ManyToMany, bool) {
	for _, r := range m.ManyToMany {
		if r.Field == field {
			return r, true
		}
	}
	return ManyToMany{}, false
}

// ManagedColumns lists the columns the engine fills in itself.
func (m *TableMetadata) ManagedColumns() []string {
	var cols []string
	if created, updated, ok := m.TimestampFields(); ok {
		cols = append(cols, created, updated)
	}
	if sl, ok := m.SlugConfig(); ok {
		cols = append(cols, sl.Target)
	}
	if col, ok := m.SoftDeleteColumn(); ok {
		cols = append(cols, col)
	}
	if col, ok := m.ApprovalField(); ok {
		cols = append(cols, col)
	}
	if m.RowLevelSecurity.Enabled || m.BusinessRules.MaxRecordsPerUser > 0 {
		cols = append(cols, m.OwnerField())
	}
	return cols
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
