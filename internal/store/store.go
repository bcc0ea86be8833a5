package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/seadriftlabs/seadrift/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingRegistry   = errors.New("entity registry is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable machine-readable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

const (
	opStoreNew      = "store.new"
	opPost          = "store.post"
	opPut           = "store.put"
	opDelete        = "store.delete"
	opForcePut      = "store.force_put"
	opChanges       = "store.changes"
	opInfo          = "store.info"
	opPresentRevs   = "store.present_revs"
	opDocumentAtRev = "store.document_at_rev"
	opCheckpoint    = "store.checkpoint"

	fieldEntity = "entity"
	fieldDocID  = "doc_id"
	fieldRev    = "rev"
)

// IDProvider issues identifiers for append-only change-log entries.
type IDProvider interface {
	NewID() (string, error)
}

// Config describes the dependencies a Store needs.
type Config struct {
	Database   *gorm.DB
	Registry   *schema.Registry
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store executes resolved document operations against the relational tables
// of each registered entity, one ACID transaction per operation. The store is
// the single source of truth; nothing is cached between operations.
type Store struct {
	db         *gorm.DB
	registry   *schema.Registry
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	startedAt  time.Time
}

// New validates the configuration and returns a wired Store.
func New(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.Registry == nil {
		return nil, newServiceError(opStoreNew, "missing_registry", errMissingRegistry)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		registry:   cfg.Registry,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		startedAt:  clock().UTC(),
	}, nil
}

// StartedAt reports when this store instance came up, used as the
// replication instance start time.
func (s *Store) StartedAt() time.Time {
	return s.startedAt
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("store error", attrs...)
}

func tableCurrent(entity string) string {
	return entity + "_current"
}

func tableHistory(entity string) string {
	return entity + "_history"
}

func tableVersionControl(entity string) string {
	return entity + "_versioncontrol"
}

func tableChangeLog(entity string) string {
	return entity + "_changelog"
}

func tableCheckpoints(entity string) string {
	return entity + "_checkpoints"
}
