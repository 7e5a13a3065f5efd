// Package storage keeps a local history of call sessions in SQLite.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/signaling"
	"github.com/1ureka/roomcall/internal/util"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("call record not found")

// Store persists CallRecords.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&CallRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	util.LogDebug("call history opened: %s", path)
	return &Store{db: db}, nil
}

// Start inserts a record for a session that is starting and returns its id.
func (s *Store) Start(id signaling.Identity) (string, error) {
	rec := &CallRecord{
		ID:         uuid.NewString(),
		Username:   id.Username,
		Room:       id.Room,
		Role:       negotiation.RoleNone.String(),
		FinalState: negotiation.StateIdle.String(),
		StartedAt:  time.Now(),
	}
	if err := s.db.Create(rec).Error; err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Finish stamps the end of the session recordID.
func (s *Store) Finish(recordID string, role negotiation.Role, state negotiation.State, cause error) error {
	updates := map[string]any{
		"role":        role.String(),
		"final_state": state.String(),
		"ended_at":    time.Now(),
	}
	if cause != nil {
		updates["error"] = cause.Error()
	}

	res := s.db.Model(&CallRecord{}).Where("id = ?", recordID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	return nil
}

// Get returns one record.
func (s *Store) Get(recordID string) (*CallRecord, error) {
	var rec CallRecord
	err := s.db.First(&rec, "id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent returns up to limit records, newest first. An empty room matches
// every room.
func (s *Store) Recent(room string, limit int) ([]CallRecord, error) {
	q := s.db.Order("started_at desc")
	if room != "" {
		q = q.Where("room = ?", room)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []CallRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
