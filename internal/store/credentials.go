package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendalog/marketsync/internal/models"
)

// CredentialStore reads the current marketplace token pair. The worker
// resolves it once per tick and never holds it longer than that.
type CredentialStore struct {
	db *gorm.DB
}

// NewCredentialStore creates a credential store on the given connection.
func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Current returns the most recently updated credential row, or nil when
// none is stored.
func (s *CredentialStore) Current(ctx context.Context) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).Order("updated_at DESC").First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

// Save persists a refreshed token pair.
func (s *CredentialStore) Save(ctx context.Context, cred *models.Credential) error {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	cred.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(cred).Error
}
