package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// Store bundles the database handle and exposes a typed repository per
// entity behind a single constructor, so the supervisor holds exactly one
// storage instance and hands it to everything else explicitly.
type Store struct {
	db *gorm.DB
}

// Open establishes the Postgres connection pool and verifies
// connectivity before anything else starts.
func Open(dsn string, poolSize, overflow int) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorageUnavailable, "open database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorageUnavailable, "acquire sql.DB", err)
	}
	sqlDB.SetMaxOpenConns(poolSize + overflow)
	sqlDB.SetMaxIdleConns(poolSize)
	sqlDB.SetConnMaxLifetime(60 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorageUnavailable, "ping database", err)
	}

	log.Info().Msg("storage: database connected")
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open gorm.DB, used by tests that open an
// in-memory sqlite database instead of Postgres.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates/updates tables for every model. The supervisor runs
// it at every startup, and tests use it to build their in-memory schema;
// cmd/migrate applies the SQL migrations under migrations/.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(AllModels()...)
}

// Ping checks connectivity for the supervisor's storage health probe.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorageUnavailable, "acquire sql.DB", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apierrors.Wrap(apierrors.KindStorageUnavailable, "ping", err)
	}
	return nil
}

// DB exposes the underlying gorm handle so sibling packages backed by
// the same Postgres database (the outbound queue table) share this pool
// instead of opening a second one.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Users() *UserRepo           { return &UserRepo{db: s.db} }
func (s *Store) Sessions() *SessionRepo     { return &SessionRepo{db: s.db} }
func (s *Store) Messages() *MessageRepo     { return &MessageRepo{db: s.db} }
func (s *Store) AuthCodes() *AuthCodeRepo   { return &AuthCodeRepo{db: s.db} }
func (s *Store) LLMConfigs() *LLMConfigRepo { return &LLMConfigRepo{db: s.db} }

// Tx is the transactional view handed to WithTx callbacks: the same
// repository set, bound to a transaction instead of the base connection.
type Tx struct {
	Users      *UserRepo
	Sessions   *SessionRepo
	Messages   *MessageRepo
	AuthCodes  *AuthCodeRepo
	LLMConfigs *LLMConfigRepo
}

// WithTx runs fn inside a database transaction, committing on nil return
// and rolling back otherwise. The webhook intake uses it to upsert the
// sender and store the incoming message in one transaction, so a failure
// mid-intake leaves no half-committed state.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		tx := &Tx{
			Users:      &UserRepo{db: gtx},
			Sessions:   &SessionRepo{db: gtx},
			Messages:   &MessageRepo{db: gtx},
			AuthCodes:  &AuthCodeRepo{db: gtx},
			LLMConfigs: &LLMConfigRepo{db: gtx},
		}
		return fn(tx)
	})
	if err != nil {
		return translateErr(err)
	}
	return nil
}

// translateErr maps gorm/driver failures onto the apierrors taxonomy at
// the repository boundary, so callers switch on error kinds instead of
// driver-specific types.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierrors.Wrap(apierrors.KindNotFound, "record not found", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint") {
		return apierrors.Wrap(apierrors.KindConflict, "uniqueness violation", err)
	}
	if strings.Contains(msg, "connection") || strings.Contains(msg, "dial") {
		return apierrors.Wrap(apierrors.KindStorageUnavailable, "connection failure", err)
	}
	return apierrors.Wrap(apierrors.KindInternal, fmt.Sprintf("storage: %v", err), err)
}
