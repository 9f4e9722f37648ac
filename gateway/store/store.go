package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"launchpad/gateway/models"
)

var (
	// ErrNotFound is returned when a token row does not exist or is not registered.
	ErrNotFound = errors.New("token not found")
	// ErrAlreadyRegistered is returned when metadata was already published.
	ErrAlreadyRegistered = errors.New("token already registered")
)

// Metadata columns that creators may edit.
const (
	FieldTwitterURL  = "twitter_url"
	FieldTelegramURL = "telegram_url"
	FieldWebsite     = "website"
)

// MetadataFields lists the editable metadata columns.
var MetadataFields = []string{FieldTwitterURL, FieldTelegramURL, FieldWebsite}

// OpenConfig selects the SQL driver and pool limits.
type OpenConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowThreshold   time.Duration
}

// Open connects gorm to postgres or sqlite and applies the schema.
func Open(cfg OpenConfig) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn required")
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log.Default(), logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return db, nil
}

// Store persists token records.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// EnsureToken returns the record for address, creating it with the
// placeholder creator when missing. Concurrent callers converge on one row.
func (s *Store) EnsureToken(ctx context.Context, address string) (*models.Token, error) {
	return ensureToken(s.db.WithContext(ctx), address, s.now())
}

func ensureToken(tx *gorm.DB, address string, now time.Time) (*models.Token, error) {
	record := models.Token{
		Address:       address,
		Creator:       address,
		CreatorStatus: models.CreatorUnknown,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("insert token %s: %w", address, err)
	}
	var out models.Token
	if err := tx.First(&out, "address = ?", address).Error; err != nil {
		return nil, fmt.Errorf("load token %s: %w", address, err)
	}
	return &out, nil
}

// GetToken loads a token record.
func (s *Store) GetToken(ctx context.Context, address string) (*models.Token, error) {
	var out models.Token
	if err := s.db.WithContext(ctx).First(&out, "address = ?", address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load token %s: %w", address, err)
	}
	return &out, nil
}

// TokenVersion returns the updated_at stamp of a token row. Every write
// moves it forward.
func (s *Store) TokenVersion(ctx context.Context, address string) (time.Time, error) {
	var out models.Token
	err := s.db.WithContext(ctx).Select("updated_at").First(&out, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load token version %s: %w", address, err)
	}
	return out.UpdatedAt, nil
}

// ListTokens pages through registered tokens, newest registration first.
func (s *Store) ListTokens(ctx context.Context, page, perPage int) ([]models.Token, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	query := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("registered_at IS NOT NULL").
		Session(&gorm.Session{})
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count tokens: %w", err)
	}
	tokens := make([]models.Token, 0, perPage)
	if err := query.Order("registered_at DESC").Order("address").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&tokens).Error; err != nil {
		return nil, 0, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, total, nil
}

// MarkPending records the creation transaction of an unverified token,
// replacing any hash stored by an earlier lookup.
func (s *Store) MarkPending(ctx context.Context, address, txHash string) error {
	err := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("address = ? AND creator_status <> ?", address, models.CreatorVerified).
		Updates(map[string]any{
			"creation_tx":    txHash,
			"creator_status": models.CreatorPending,
			"updated_at":     s.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark token %s pending: %w", address, err)
	}
	return nil
}

// SetCreator stores a verified creator. The write only applies while the
// row is unverified, so the first verified value wins and later writers
// read it back instead of overwriting it.
func (s *Store) SetCreator(ctx context.Context, address, creator, txHash, source string) (*models.Token, error) {
	now := s.now()
	var out models.Token
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ensureToken(tx, address, now); err != nil {
			return err
		}
		res := tx.Model(&models.Token{}).
			Where("address = ? AND creator_status <> ?", address, models.CreatorVerified).
			Updates(map[string]any{
				"creator":        creator,
				"creation_tx":    txHash,
				"creator_status": models.CreatorVerified,
				"updated_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("update creator: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			audit := models.CreatorResolution{
				ID:         uuid.New(),
				Token:      address,
				Creator:    creator,
				CreationTx: txHash,
				Source:     source,
				ResolvedAt: now,
			}
			if err := tx.Create(&audit).Error; err != nil {
				return fmt.Errorf("record resolution: %w", err)
			}
		}
		return tx.First(&out, "address = ?", address).Error
	})
	if err != nil {
		return nil, fmt.Errorf("set creator for %s: %w", address, err)
	}
	return &out, nil
}

// Resolutions returns the audit trail for a token, oldest first.
func (s *Store) Resolutions(ctx context.Context, address string) ([]models.CreatorResolution, error) {
	var out []models.CreatorResolution
	if err := s.db.WithContext(ctx).Where("token = ?", address).Order("resolved_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load resolutions: %w", err)
	}
	return out, nil
}

// UnverifiedTokens lists tokens whose creator has not been verified, oldest first.
func (s *Store) UnverifiedTokens(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var addresses []string
	err := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("creator_status <> ?", models.CreatorVerified).
		Order("created_at").Order("address").
		Limit(limit).
		Pluck("address", &addresses).Error
	if err != nil {
		return nil, fmt.Errorf("list unverified tokens: %w", err)
	}
	return addresses, nil
}

// RegisterMetadata publishes metadata for a token that has not been registered yet.
func (s *Store) RegisterMetadata(ctx context.Context, address string, fields map[string]*string) (*models.Token, error) {
	now := s.now()
	var out models.Token
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ensureToken(tx, address, now); err != nil {
			return err
		}
		updates := metadataUpdates(fields, true)
		updates["registered_at"] = now
		updates["updated_at"] = now
		res := tx.Model(&models.Token{}).
			Where("address = ? AND registered_at IS NULL", address).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("register metadata: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyRegistered
		}
		return tx.First(&out, "address = ?", address).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMetadata applies the supplied metadata columns to a registered token.
func (s *Store) UpdateMetadata(ctx context.Context, address string, fields map[string]*string) (*models.Token, error) {
	var out models.Token
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := metadataUpdates(fields, false)
		updates["updated_at"] = s.now()
		res := tx.Model(&models.Token{}).
			Where("address = ? AND registered_at IS NOT NULL", address).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update metadata: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.First(&out, "address = ?", address).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearMetadata unregisters a token. The row and its creator are kept.
func (s *Store) ClearMetadata(ctx context.Context, address string) error {
	res := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("address = ? AND registered_at IS NOT NULL", address).
		Updates(map[string]any{
			FieldTwitterURL:  nil,
			FieldTelegramURL: nil,
			FieldWebsite:     nil,
			"registered_at":  nil,
			"updated_at":     s.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("clear metadata: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func metadataUpdates(fields map[string]*string, includeMissing bool) map[string]any {
	updates := make(map[string]any, len(MetadataFields)+2)
	for _, name := range MetadataFields {
		value, ok := fields[name]
		if !ok && !includeMissing {
			continue
		}
		if value == nil {
			updates[name] = nil
			continue
		}
		updates[name] = *value
	}
	return updates
}
