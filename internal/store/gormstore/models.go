package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Workspace represents the workspaces table: one credit ledger row per
// workspace with the total balance and the reserved portion.
type Workspace struct {
	WorkspaceID      string    `gorm:"primaryKey"`
	CreditCount      int64     `gorm:"not null"`
	AllocatedCredits int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (Workspace) TableName() string { return "workspaces" }

// CreditEntry mirrors the credit_entries audit table. Rows are append-only.
type CreditEntry struct {
	EntryID      string         `gorm:"type:uuid;primaryKey"`
	WorkspaceID  string         `gorm:"not null;index:idx_credit_entries_workspace_created,priority:1"`
	Operation    string         `gorm:"not null"`
	Amount       int64          `gorm:"not null"`
	AllocationID string         `gorm:"index"`
	Metadata     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_credit_entries_workspace_created,priority:2"`
}

func (CreditEntry) TableName() string { return "credit_entries" }

func (entry *CreditEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Plan mirrors the plans table of the billing catalog.
type Plan struct {
	PlanID        string    `gorm:"primaryKey"`
	Name          string    `gorm:"not null"`
	PriceCents    int64     `gorm:"not null"`
	Interval      string    `gorm:"not null"`
	Active        bool      `gorm:"not null"`
	StripePriceID string    `gorm:""`
	CreatedAt     time.Time `gorm:"not null"`
}

func (Plan) TableName() string { return "plans" }

// Subscription mirrors the subscriptions table.
type Subscription struct {
	SubscriptionID       string    `gorm:"primaryKey"`
	WorkspaceID          string    `gorm:"not null;index"`
	PlanID               string    `gorm:"not null"`
	StripeSubscriptionID string    `gorm:""`
	StripeCustomerID     string    `gorm:""`
	CurrentPeriodStart   time.Time `gorm:"not null"`
	CurrentPeriodEnd     time.Time `gorm:"not null"`
	CreatedAt            time.Time `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Generation mirrors the generations audit table.
type Generation struct {
	GenerationID   string    `gorm:"type:uuid;primaryKey"`
	WorkspaceID    string    `gorm:"not null;index:idx_generations_workspace_created,priority:1"`
	Type           string    `gorm:"not null"`
	Model          string    `gorm:""`
	Provider       string    `gorm:""`
	Prompt         string    `gorm:""`
	Status         string    `gorm:"not null"`
	CreditsCharged int64     `gorm:"not null"`
	Result         string    `gorm:""`
	Error          string    `gorm:""`
	CreatedAt      time.Time `gorm:"not null;index:idx_generations_workspace_created,priority:2"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Generation) TableName() string { return "generations" }

func (generation *Generation) BeforeCreate(tx *gorm.DB) error {
	if generation.GenerationID == "" {
		generation.GenerationID = uuid.NewString()
	}
	return nil
}

// AutoMigrate creates or updates all tables. Intended for the sqlite
// development path; postgres deployments migrate out of band.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Workspace{}, &CreditEntry{}, &Plan{}, &Subscription{}, &Generation{})
}
