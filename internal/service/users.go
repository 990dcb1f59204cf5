package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/Dan9191/gopay/internal/auth"
	"github.com/Dan9191/gopay/internal/events"
	"github.com/Dan9191/gopay/internal/models"
	"github.com/Dan9191/gopay/internal/repository"
	"github.com/Dan9191/gopay/internal/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// RegisterInput is the signup form
type RegisterInput struct {
	FirstName       string `json:"first_name" validate:"required,min=3,max=100"`
	LastName        string `json:"last_name" validate:"required,min=3,max=100"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

func (in *RegisterInput) normalize() error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if err := validateInput(in); err != nil {
		return err
	}
	if len(in.Password) > maxPasswordBytes {
		return apperrors.NewBadRequest("password must be at most 72 bytes")
	}
	return nil
}

// LoginInput is the signin form
type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

// Register creates a user with a funded default account and a card, and signs them in.
// The user, account, bonus and card are stored together or not at all.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, *auth.TokenPair, error) {
	if err := in.normalize(); err != nil {
		return nil, nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Errorf("Failed to hash password: %v", err)
		return nil, nil, apperrors.NewInternal()
	}

	user := &models.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: string(hashedPassword),
		Role:         models.RoleUser,
	}
	if slices.Contains(s.config.AdminEmails, user.Email) {
		user.Role = models.RoleAdmin
	}

	card, err := s.newCard()
	if err != nil {
		return nil, nil, err
	}

	var reg *repository.Registration
	for attempt := 1; ; attempt++ {
		number, err := utils.GenerateAccountNumber()
		if err != nil {
			s.log.Errorf("Failed to generate account number: %v", err)
			return nil, nil, apperrors.NewInternal()
		}

		reg = &repository.Registration{
			User: user,
			Account: &models.Account{
				Number:   number,
				Balance:  decimal.Zero,
				Currency: s.config.DefaultCurrency,
			},
			Card: card,
		}
		if s.config.SignupBonus.IsPositive() {
			reg.Bonus = &models.Transaction{
				Amount:      s.config.SignupBonus,
				Type:        models.TransactionBonus,
				Description: "Welcome bonus",
			}
		}

		err = s.repo.RegisterUser(ctx, reg)
		if errors.Is(err, repository.ErrAccountNumberTaken) {
			if attempt < accountNumberAttempts {
				continue
			}
			return nil, nil, s.storageError(err, "account", number)
		}
		if err != nil {
			return nil, nil, s.storageError(err, "email", user.Email)
		}
		break
	}
	account := reg.Account
	s.log.Infof("User registered: %s, account %s", user.Email, account.Number)

	s.publish(ctx, events.New(events.TypeAccountOpened, user.ID, map[string]any{
		"account_id": account.ID,
		"currency":   account.Currency,
	}))
	if reg.Bonus != nil {
		s.publishTransaction(ctx, account, reg.Bonus)
	}
	s.publish(ctx, events.New(events.TypeCardIssued, user.ID, map[string]any{
		"card_id":    card.ID,
		"account_id": account.ID,
	}))
	s.publish(ctx, events.New(events.TypeUserRegistered, user.ID, map[string]any{
		"email":          user.Email,
		"account_number": account.Number,
	}))
	if err := s.notifier.SendWelcome(user.Email, user.FirstName, account.Number, s.config.SignupBonus, account.Currency); err != nil {
		s.log.Warnf("Welcome email to %s not sent: %v", user.Email, err)
	}

	pair, err := s.tokens.NewPair(ctx, user, "")
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login authenticates a user and returns a token pair
func (s *Service) Login(ctx context.Context, email, password string) (*auth.TokenPair, error) {
	in := LoginInput{Email: strings.ToLower(strings.TrimSpace(email)), Password: password}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	email = in.Email

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, s.storageError(err, "email", email)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Infof("Failed login for %s", email)
		return nil, apperrors.NewAuthorization("Invalid email and password combination")
	}

	pair, err := s.tokens.NewPair(ctx, user, "")
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(events.TypeUserLoggedIn, user.ID, nil))
	s.log.Infof("User logged in: %s", user.Email)
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token stops working.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	rt, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.FindUserByID(ctx, rt.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewAuthorization("Unable to verify user from refresh token")
	}
	if err != nil {
		return nil, s.storageError(err, "user", itoa(rt.UserID))
	}

	return s.tokens.NewPair(ctx, user, rt.ID)
}

// Signout revokes every refresh token of the caller
func (s *Service) Signout(ctx context.Context) error {
	id, err := identity(ctx)
	if err != nil {
		return err
	}
	if err := s.tokens.Signout(ctx, id.UserID); err != nil {
		return err
	}
	s.log.Infof("User %d signed out", id.UserID)
	return nil
}

// GetMyself returns the caller's profile
func (s *Service) GetMyself(ctx context.Context) (*models.User, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.FindUserByID(ctx, id.UserID)
	if err != nil {
		return nil, s.storageError(err, "user", itoa(id.UserID))
	}
	return user, nil
}

// ListUsers returns every user. Admins only.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if id.Role != models.RoleAdmin {
		return nil, apperrors.NewForbidden("admin role required")
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, s.storageError(err, "users", "all")
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}
