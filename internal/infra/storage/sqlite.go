package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"liquibot/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists liquidation attempts and price observations for
// post-mortem analysis.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a SQLite storage instance at dbPath. An empty path uses
// the default data directory.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join("data", "liquibot.db")
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.LiquidationAttempt{}, &domain.PriceObservation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// RecordAttempt stores one liquidation submission record.
func (s *Storage) RecordAttempt(attempt *domain.LiquidationAttempt) error {
	return s.db.Create(attempt).Error
}

// RecordObservation stores one evaluated price.
func (s *Storage) RecordObservation(obs *domain.PriceObservation) error {
	return s.db.Create(obs).Error
}

// RecentAttempts returns the latest n attempts, newest first.
func (s *Storage) RecentAttempts(n int) ([]domain.LiquidationAttempt, error) {
	var attempts []domain.LiquidationAttempt
	err := s.db.Order("id desc").Limit(n).Find(&attempts).Error
	return attempts, err
}

// FailedAttempts returns all unsuccessful attempts, newest first.
func (s *Storage) FailedAttempts() ([]domain.LiquidationAttempt, error) {
	var attempts []domain.LiquidationAttempt
	err := s.db.Where("success = ?", false).Order("id desc").Find(&attempts).Error
	return attempts, err
}
