package store

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrInvalidTelegramID indicates an identity that is zero or negative.
	ErrInvalidTelegramID = errors.New("store: invalid telegram id")
	// ErrInvalidDirection indicates a message direction other than in or out.
	ErrInvalidDirection = errors.New("store: invalid message direction")
	// ErrUserNotFound indicates the referenced bot user does not exist.
	ErrUserNotFound = errors.New("store: user not found")
	// ErrCampaignNotFound indicates the referenced campaign does not exist.
	ErrCampaignNotFound = errors.New("store: campaign not found")
	// ErrCampaignNotSending indicates a terminal update against a finished campaign.
	ErrCampaignNotSending = errors.New("store: campaign is not sending")
	noOpLogger            = zap.NewNop()
)

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

const (
	opServiceNew         = "store.service.new"
	opUpsertUser         = "store.upsert_user"
	opImportUser         = "store.import_user"
	opAppendMessage      = "store.append_message"
	opImportMessage      = "store.import_message"
	opAppendCommand      = "store.append_command"
	opSetBlocked         = "store.set_blocked"
	opGetUser            = "store.get_user"
	opRecipients         = "store.deliverable_recipients"
	opCreateCampaign     = "store.create_campaign"
	opCompleteCampaign   = "store.complete_campaign"
	opGetCampaign        = "store.get_campaign"
	opListCampaigns      = "store.list_campaigns"
	opListStuckCampaigns = "store.list_stuck_campaigns"
	opCount              = "store.count"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the event store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the event store: users, messages, commands and broadcast campaigns.
// Every exported operation is its own unit of work.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("store service error", attrs...)
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newServiceError(operation, reason, err)
}
