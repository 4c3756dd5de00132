/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies a change recorded in the audit trail.
type AuditAction string

const (
	AuditActionCampaignCreate AuditAction = "campaign.create"
	AuditActionCampaignUpdate AuditAction = "campaign.update"
	AuditActionCampaignDelete AuditAction = "campaign.delete"
	AuditActionAdCreate       AuditAction = "ad.create"
	AuditActionAdUpdate       AuditAction = "ad.update"
	AuditActionAdDelete       AuditAction = "ad.delete"
	AuditActionAPIKeyCreate   AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke   AuditAction = "apikey.revoke"
)

// JSONMap is a generic key/value blob with GORM scanner/valuer support,
// stored as JSON.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal JSONMap: %v", value)
	}
	if len(bytes) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// AuditLog records an administrative change to campaigns, ads, or API keys.
type AuditLog struct {
	ID        string      `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp time.Time   `gorm:"index;not null" json:"timestamp"`
	Action    AuditAction `gorm:"type:varchar(64);index;not null" json:"action"`

	ResourceType string `gorm:"type:varchar(32);index" json:"resource_type,omitempty"`
	ResourceID   string `gorm:"type:varchar(64);index" json:"resource_id,omitempty"`

	// Actor, when the change came through the authenticated admin API.
	APIKeyID   string `gorm:"type:uuid" json:"api_key_id,omitempty"`
	APIKeyName string `gorm:"type:varchar(255)" json:"api_key_name,omitempty"`

	IPAddress string  `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent string  `gorm:"type:text" json:"user_agent,omitempty"`
	Details   JSONMap `gorm:"type:text" json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "ad_audit_logs"
}

// NewAuditLog creates an audit entry for an action happening now.
func NewAuditLog(action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
	}
}
