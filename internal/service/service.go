package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/Dan9191/gopay/internal/auth"
	"github.com/Dan9191/gopay/internal/config"
	"github.com/Dan9191/gopay/internal/events"
	"github.com/Dan9191/gopay/internal/initialdata"
	"github.com/Dan9191/gopay/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Notifier delivers customer emails
type Notifier interface {
	SendWelcome(to, name, accountNumber string, bonus decimal.Decimal, currency string) error
	SendTransactionNotification(to, name, accountNumber string, amount decimal.Decimal, transactionType string, balance decimal.Decimal, currency string) error
}

// Service handles business logic
type Service struct {
	repo       repository.Repository
	tokens     *auth.TokenService
	notifier   Notifier
	events     events.Publisher
	aggregator *initialdata.Aggregator
	log        *logrus.Logger
	config     *config.Config
}

// NewService initializes a new service
func NewService(
	repo repository.Repository,
	tokens *auth.TokenService,
	notifier Notifier,
	publisher events.Publisher,
	log *logrus.Logger,
	cfg *config.Config,
) *Service {
	return &Service{
		repo:       repo,
		tokens:     tokens,
		notifier:   notifier,
		events:     publisher,
		aggregator: initialdata.New(cfg.InitialDataSequential, log),
		log:        log,
		config:     cfg,
	}
}

// identity returns the caller set by the auth middleware
func identity(ctx context.Context) (*auth.Identity, error) {
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		return nil, apperrors.NewAuthorization("user ID not found in context")
	}
	return id, nil
}

// storageError maps repository errors onto application errors
func (s *Service) storageError(err error, name, value string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(name, value)
	case errors.Is(err, repository.ErrConflict):
		return apperrors.NewConflict(name, value)
	case errors.Is(err, repository.ErrInsufficientFunds):
		return apperrors.NewBadRequest("insufficient funds")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.NewServiceUnavailable()
	}
	s.log.Errorf("Storage failure on %s %s: %v", name, value, err)
	return apperrors.NewInternal()
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warnf("Event %s for user %d not published: %v", event.Type, event.UserID, err)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
