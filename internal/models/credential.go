package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is the current marketplace token pair for a shop, plus an
// optional backup pair. The worker resolves it once per tick and never
// caches it longer than that.
type Credential struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	Platform           string     `gorm:"not null" json:"platform"`
	ShopID             string     `gorm:"not null" json:"shop_id"`
	AccessToken        string     `gorm:"not null" json:"-"`
	RefreshToken       string     `json:"-"`
	ExpiresAt          time.Time  `json:"expires_at"`
	BackupAccessToken  string     `json:"-"`
	BackupRefreshToken string     `json:"-"`
	BackupExpiresAt    *time.Time `json:"backup_expires_at"`
	UpdatedAt          time.Time  `gorm:"not null" json:"updated_at"`
}

func (Credential) TableName() string {
	return "credentials"
}

// Expired reports whether the primary token pair is past its expiry.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// BackupValid reports whether the backup token pair is present and usable.
func (c *Credential) BackupValid(now time.Time) bool {
	if c.BackupAccessToken == "" {
		return false
	}
	return c.BackupExpiresAt == nil || now.Before(*c.BackupExpiresAt)
}
