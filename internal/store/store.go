// Package store persists canonical facts, narrative events and the interaction
// history, partitioned by session identity.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
)

var (
	// ErrUnavailable wraps every backend failure. A generation cycle cannot
	// continue without the store.
	ErrUnavailable = errors.New("store unavailable")
	// ErrUnsupportedDriver is returned by Open for unknown drivers.
	ErrUnsupportedDriver = errors.New("unsupported store driver")
)

// Repository is the storage contract used by the pipeline and the admin
// surfaces. Identity reads are case-insensitive; keys match exactly.
type Repository interface {
	SetFact(ctx context.Context, id chat.Identity, key string, value any, meta canon.Meta) error
	GetFact(ctx context.Context, id chat.Identity, key string, def any) (any, error)
	GetFacts(ctx context.Context, id chat.Identity) (canon.Facts, error)
	ListFacts(ctx context.Context, id chat.Identity) ([]canon.Fact, error)
	DeleteFact(ctx context.Context, id chat.Identity, key string) (bool, error)

	RegisterEvent(ctx context.Context, id chat.Identity, ev canon.Event) (canon.Event, error)
	LastEvent(ctx context.Context, id chat.Identity, eventType string) (*canon.Event, error)
	ListEvents(ctx context.Context, id chat.Identity, limit int) ([]canon.Event, error)
	DeleteEvent(ctx context.Context, id chat.Identity, eventID string) (bool, error)

	// SaveInteraction persists the turn and the events it produced atomically.
	SaveInteraction(ctx context.Context, id chat.Identity, it chat.Interaction, events ...canon.Event) (chat.Interaction, error)
	ListInteractions(ctx context.Context, id chat.Identity, limit int) ([]chat.Interaction, error)
	LastInteraction(ctx context.Context, id chat.Identity) (*chat.Interaction, error)
	DeleteHistory(ctx context.Context, id chat.Identity) (int64, error)
	DeleteLastInteraction(ctx context.Context, id chat.Identity) (bool, error)

	DeleteAllUserData(ctx context.Context, id chat.Identity) (canon.DeletionCounts, error)
	ResetNSFW(ctx context.Context, id chat.Identity) (bool, error)
	EnableNSFW(ctx context.Context, id chat.Identity) error
}

// Config selects the database backend.
type Config struct {
	Driver string
	DSN    string
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var dialector gorm.Dialector
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "roleplay.db"
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", driver, ErrUnavailable, err)
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	logger.Info("store ready", zap.String("driver", driver))
	return db, nil
}

// Migrate creates or updates the tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&factRecord{}, &eventRecord{}, &interactionRecord{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
