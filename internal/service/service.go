package service

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vendalog/marketsync/internal/ingest"
	"github.com/vendalog/marketsync/internal/metrics"
	"github.com/vendalog/marketsync/internal/notify"
	"github.com/vendalog/marketsync/internal/store"
)

// Service holds all application dependencies
// This eliminates global state and enables proper dependency injection
type Service struct {
	DB      *gorm.DB
	Logger  *zap.Logger
	Ingest  *ingest.Service
	Events  *store.EventStore
	Metrics *metrics.Registry
	Notify  *notify.Conn // nil when the wake channel is disabled
}

// NewService creates a new service instance with all dependencies
func NewService(db *gorm.DB, logger *zap.Logger, ing *ingest.Service, events *store.EventStore, reg *metrics.Registry, nc *notify.Conn) *Service {
	return &Service{
		DB:      db,
		Logger:  logger,
		Ingest:  ing,
		Events:  events,
		Metrics: reg,
		Notify:  nc,
	}
}
