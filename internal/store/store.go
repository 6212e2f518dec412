// Package store is the Persistence module: a single gorm-backed sqlite
// database holding Patterns, Requests (Request Records), Detections and
// key-value Settings. Writes are best-effort — a persistence failure
// must never fail the response already sent to the client, so every
// write method here only logs on error.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the gorm handle. sqlite only tolerates one writer at a
// time; gorm/go-sqlite3 serialize through the database/sql pool, so no
// extra mutex is needed here (orig/database.rs wraps its rusqlite
// Connection in a Mutex for the same reason, but Go's sql.DB already
// pools and serializes access).
type Store struct {
	db *gorm.DB
}

// Open creates or attaches to the sqlite file at path, self-migrates the
// schema (AutoMigrate only adds missing columns/tables; it never drops
// or rewrites existing data, mirroring orig/database.rs's additive
// ALTER TABLE migrations), creates the two indices named in the
// Persistence module, and seeds builtin patterns.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewFromDB(db)
}

// NewFromDB wraps an already-open gorm handle (e.g. an in-memory sqlite
// database in tests) with the same migration, index, and seeding steps
// Open performs on a file-backed database.
func NewFromDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Request{}, &Setting{}, &Pattern{}, &Detection{}, &Backend{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_requests_timestamp_backend ON requests(timestamp, backend)").Error; err != nil {
		return nil, fmt.Errorf("failed to create timestamp/backend index: %w", err)
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_dlp_detections_request_id ON dlp_detections(request_id)").Error; err != nil {
		return nil, fmt.Errorf("failed to create detections index: %w", err)
	}
	s := &Store{db: db}
	if err := s.seedBuiltinPatterns(); err != nil {
		return nil, err
	}
	if err := s.seedDefaultBackends(); err != nil {
		return nil, err
	}
	return s, nil
}

// seedDefaultBackends inserts the claude and codex builtin backend rows
// the first time they're seen, by name. Unlike seedBuiltinPatterns,
// existing rows are left untouched on reseed: a predefined backend's
// base_url/policy settings are user-editable (spec.md §6) and must
// survive a restart, not be overwritten back to defaults every time.
func (s *Store) seedDefaultBackends() error {
	now := time.Now().UTC()
	defaults := []Backend{
		{Name: "claude", BaseURL: "https://api.anthropic.com", Kind: "claude-native", Enabled: true, DlpEnabled: true, RateLimitMinutes: 1, ActionForMaxTokens: "block", IsBuiltin: true, CreatedAt: now},
		{Name: "codex", BaseURL: "https://chatgpt.com/backend-api/codex", Kind: "codex-responses", Enabled: true, DlpEnabled: true, RateLimitMinutes: 1, ActionForMaxTokens: "block", IsBuiltin: true, CreatedAt: now},
	}
	for _, b := range defaults {
		err := s.db.Where("name = ?", b.Name).First(&Backend{}).Error
		switch {
		case err == nil:
			continue
		case err == gorm.ErrRecordNotFound:
			if err := s.db.Create(&b).Error; err != nil {
				return fmt.Errorf("failed to seed backend %q: %w", b.Name, err)
			}
		default:
			return fmt.Errorf("failed to look up backend %q: %w", b.Name, err)
		}
	}
	return nil
}

// LoadEnabledBackends returns every enabled Backend row, for the
// Backend Registry to load at startup and on every config reload.
func (s *Store) LoadEnabledBackends() ([]Backend, error) {
	var backends []Backend
	if err := s.db.Where("enabled = ?", true).Find(&backends).Error; err != nil {
		return nil, fmt.Errorf("failed to load backends: %w", err)
	}
	return backends, nil
}

// seedBuiltinPatterns updates-in-place (preserving Enabled) any builtin
// pattern that already exists by name, else inserts it. Ported from
// seed_builtin_patterns in orig/database.rs.
func (s *Store) seedBuiltinPatterns() error {
	now := time.Now().UTC()
	for _, bp := range builtinPatterns() {
		patternsJSON, err := json.Marshal(bp.Patterns)
		if err != nil {
			return fmt.Errorf("failed to marshal builtin pattern %q: %w", bp.Name, err)
		}
		var negativeJSON string
		if len(bp.NegativePatterns) > 0 {
			b, err := json.Marshal(bp.NegativePatterns)
			if err != nil {
				return fmt.Errorf("failed to marshal negative patterns for %q: %w", bp.Name, err)
			}
			negativeJSON = string(b)
		}

		var existing Pattern
		err = s.db.Where("is_builtin = ? AND name = ?", true, bp.Name).First(&existing).Error
		switch {
		case err == nil:
			existing.PatternType = bp.PatternType
			existing.Patterns = string(patternsJSON)
			existing.NegativePatternType = bp.NegativePatternType
			existing.NegativePatterns = negativeJSON
			existing.MinOccurrences = bp.MinOccurrences
			existing.MinUniqueChars = bp.MinUniqueChars
			if err := s.db.Save(&existing).Error; err != nil {
				return fmt.Errorf("failed to update builtin pattern %q: %w", bp.Name, err)
			}
		case err == gorm.ErrRecordNotFound:
			row := Pattern{
				Name:                bp.Name,
				PatternType:         bp.PatternType,
				Patterns:            string(patternsJSON),
				NegativePatternType: bp.NegativePatternType,
				NegativePatterns:    negativeJSON,
				Enabled:             true,
				MinOccurrences:      bp.MinOccurrences,
				MinUniqueChars:      bp.MinUniqueChars,
				IsBuiltin:           true,
				CreatedAt:           now,
			}
			if err := s.db.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to insert builtin pattern %q: %w", bp.Name, err)
			}
		default:
			return fmt.Errorf("failed to look up builtin pattern %q: %w", bp.Name, err)
		}
	}
	return nil
}

// DB exposes the underlying gorm handle for callers (tests, the
// not-yet-built admin API) that need direct query access beyond the
// Record Writer's own methods.
func (s *Store) DB() *gorm.DB { return s.db }

// CleanupOldData deletes Request Records older than 7 days and cascades
// their Detections by request_id. orig/database.rs's cleanup_old_data
// only deletes from requests and never cascades to dlp_detections; the
// cascade here is a refinement mandated by the specification (detections
// always belong to a parent request, so orphaning them serves no one).
func (s *Store) CleanupOldData(now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -7)

	var staleIDs []uint
	if err := s.db.Model(&Request{}).Where("timestamp < ?", cutoff).Pluck("id", &staleIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to list stale requests: %w", err)
	}
	if len(staleIDs) == 0 {
		return 0, nil
	}

	if err := s.db.Where("request_id IN ?", staleIDs).Delete(&Detection{}).Error; err != nil {
		return 0, fmt.Errorf("failed to cascade-delete detections: %w", err)
	}
	result := s.db.Where("id IN ?", staleIDs).Delete(&Request{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete stale requests: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// LoadEnabledPatterns returns every enabled Pattern row, for the DLP
// Engine to compile at request time.
func (s *Store) LoadEnabledPatterns() ([]Pattern, error) {
	var patterns []Pattern
	if err := s.db.Where("enabled = ?", true).Find(&patterns).Error; err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	return patterns, nil
}

// GetSetting returns a settings value, or fallback if the key is unset.
func (s *Store) GetSetting(key, fallback string) string {
	var row Setting
	if err := s.db.Where("key = ?", key).First(&row).Error; err != nil {
		return fallback
	}
	return row.Value
}

// SaveSetting upserts a settings key-value pair, mirroring orig/
// database.rs's `INSERT OR REPLACE INTO settings`.
func (s *Store) SaveSetting(key, value string) error {
	row := Setting{Key: key, Value: value}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save setting %q: %w", key, err)
	}
	return nil
}

// logWriteErr records a best-effort persistence failure without
// propagating it to the caller, per the package doc's "writes never
// fail the response" contract.
func logWriteErr(op string, err error) {
	if err != nil {
		logrus.WithError(err).WithField("op", op).Warn("store: write failed")
	}
}
