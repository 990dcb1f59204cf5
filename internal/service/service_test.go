package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/Dan9191/gopay/internal/auth"
	"github.com/Dan9191/gopay/internal/config"
	"github.com/Dan9191/gopay/internal/events"
	"github.com/Dan9191/gopay/internal/initialdata"
	"github.com/Dan9191/gopay/internal/models"
	"github.com/Dan9191/gopay/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	to, kind string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (n *fakeNotifier) SendWelcome(to, _, _ string, _ decimal.Decimal, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{to: to, kind: "welcome"})
	return nil
}

func (n *fakeNotifier) SendTransactionNotification(to, _, _ string, _ decimal.Decimal, kind string, _ decimal.Decimal, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{to: to, kind: kind})
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	svc       *Service
	repo      *repository.Memory
	tokens    *auth.TokenService
	notifier  *fakeNotifier
	publisher *recordingPublisher
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:       "id-secret",
		RefreshSecret:   "refresh-secret",
		IDTokenTTL:      15 * time.Minute,
		RefreshTokenTTL: time.Hour,
		HMACSecret:      "hmac-secret",
		EncryptionKey:   "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6",
		CardBIN:         "400000",
		DefaultCurrency: "RUB",
		SignupBonus:     decimal.NewFromInt(500),
		AdminEmails:     []string{"root@gopay.local"},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := testConfig()
	repo := repository.NewMemory()
	tokens := auth.NewTokenService(auth.NewMemoryStore(), cfg, log)
	notifier := &fakeNotifier{}
	publisher := &recordingPublisher{}

	return &testEnv{
		svc:       NewService(repo, tokens, notifier, publisher, log, cfg),
		repo:      repo,
		tokens:    tokens,
		notifier:  notifier,
		publisher: publisher,
	}
}

func registerInput(email string) RegisterInput {
	return RegisterInput{
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           email,
		Password:        "correct-horse",
		ConfirmPassword: "correct-horse",
	}
}

// register signs up a user and returns a context authenticated as them
func (e *testEnv) register(t *testing.T, email string) (context.Context, *models.User, *auth.TokenPair) {
	t.Helper()
	user, pair, err := e.svc.Register(context.Background(), registerInput(email))
	require.NoError(t, err)

	identity, err := e.tokens.ValidateIDToken(pair.IDToken)
	require.NoError(t, err)
	return auth.WithIdentity(context.Background(), identity), user, pair
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)
	ctx, user, pair := env.register(t, "  Ada@Example.com ")

	require.Equal(t, "ada@example.com", user.Email)
	require.Equal(t, models.RoleUser, user.Role)
	require.NotEmpty(t, user.PasswordHash)
	require.NotEmpty(t, pair.RefreshToken)

	account, err := env.svc.GetMyAccount(ctx)
	require.NoError(t, err)
	require.Len(t, account.Number, 10)
	require.Equal(t, "RUB", account.Currency)
	require.True(t, account.Balance.Equal(decimal.NewFromInt(500)), account.Balance.String())

	history, err := env.svc.GetMyHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.TransactionBonus, history[0].Type)

	card, err := env.svc.GetMyCard(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(card.CardNumber, "400000******"), card.CardNumber)
	require.Regexp(t, `^\d{2}/\d{2}$`, card.ExpiryDate)
	require.Empty(t, card.CVV)

	require.Equal(t, []string{
		events.TypeAccountOpened,
		events.TypeTransactionCreated,
		events.TypeCardIssued,
		events.TypeUserRegistered,
	}, env.publisher.types())
	require.Equal(t, []sentMail{{to: "ada@example.com", kind: "welcome"}}, env.notifier.sent)
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := map[string]func(*RegisterInput){
		"missing first name": func(in *RegisterInput) { in.FirstName = " " },
		"missing email":      func(in *RegisterInput) { in.Email = "" },
		"invalid email":      func(in *RegisterInput) { in.Email = "not-an-email" },
		"short password":     func(in *RegisterInput) { in.Password, in.ConfirmPassword = "short", "short" },
		"mismatch":           func(in *RegisterInput) { in.ConfirmPassword = "something-else" },
		"short first name":   func(in *RegisterInput) { in.FirstName = "Al" },
		"long last name":     func(in *RegisterInput) { in.LastName = strings.Repeat("x", 101) },
		"long email":         func(in *RegisterInput) { in.Email = strings.Repeat("a", 250) + "@example.com" },
		"long password": func(in *RegisterInput) {
			in.Password = strings.Repeat("p", 100)
			in.ConfirmPassword = in.Password
		},
		"password over 72 bytes": func(in *RegisterInput) {
			in.Password = strings.Repeat("ж", 40)
			in.ConfirmPassword = in.Password
		},
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := registerInput("ada@example.com")
			mutate(&in)
			_, _, err := env.svc.Register(context.Background(), in)
			require.Equal(t, http.StatusBadRequest, apperrors.Status(err))
		})
	}
}

func TestRegister_ValidationMessage(t *testing.T) {
	env := newTestEnv(t)
	in := registerInput("ada@example.com")
	in.ConfirmPassword = "something-else"

	_, _, err := env.svc.Register(context.Background(), in)
	require.EqualError(t, err, "confirm_password must match password")

	in = registerInput("not-an-email")
	_, _, err = env.svc.Register(context.Background(), in)
	require.EqualError(t, err, "email must be a valid email address")
}

func TestRegister_FailureLeavesNothingBehind(t *testing.T) {
	env := newTestEnv(t)
	env.svc.config.CardBIN = "abc"

	_, _, err := env.svc.Register(context.Background(), registerInput("ada@example.com"))
	require.Equal(t, http.StatusInternalServerError, apperrors.Status(err))

	users, err := env.repo.ListUsers(context.Background())
	require.NoError(t, err)
	require.Empty(t, users)
	require.Empty(t, env.publisher.types())
	require.Empty(t, env.notifier.sent)

	env.svc.config.CardBIN = "400000"
	ctx, _, _ := env.register(t, "ada@example.com")
	data, err := env.svc.InitialData(ctx)
	require.NoError(t, err)
	require.Len(t, data.History, 1)
}

// takenNumbers rejects every account number
type takenNumbers struct {
	*repository.Memory
	attempts int
}

func (r *takenNumbers) RegisterUser(_ context.Context, reg *repository.Registration) error {
	r.attempts++
	return fmt.Errorf("account number %s: %w", reg.Account.Number, repository.ErrAccountNumberTaken)
}

func TestRegister_RetriesAccountNumber(t *testing.T) {
	env := newTestEnv(t)
	repo := &takenNumbers{Memory: env.repo}
	svc := NewService(repo, env.tokens, env.notifier, env.publisher, env.svc.log, env.svc.config)

	_, _, err := svc.Register(context.Background(), registerInput("ada@example.com"))
	require.Equal(t, http.StatusConflict, apperrors.Status(err))
	require.Equal(t, accountNumberAttempts, repo.attempts)

	users, err := env.repo.ListUsers(context.Background())
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")

	_, _, err := env.svc.Register(context.Background(), registerInput("ADA@example.com"))
	require.Equal(t, http.StatusConflict, apperrors.Status(err))
}

func TestRegister_AdminEmail(t *testing.T) {
	env := newTestEnv(t)
	adminCtx, admin, _ := env.register(t, "root@gopay.local")
	require.Equal(t, models.RoleAdmin, admin.Role)

	userCtx, _, _ := env.register(t, "ada@example.com")

	users, err := env.svc.ListUsers(adminCtx)
	require.NoError(t, err)
	require.Len(t, users, 2)

	_, err = env.svc.ListUsers(userCtx)
	require.Equal(t, http.StatusForbidden, apperrors.Status(err))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")

	pair, err := env.svc.Login(context.Background(), "ada@example.com", "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, pair.IDToken)
	require.Contains(t, env.publisher.types(), events.TypeUserLoggedIn)

	_, err = env.svc.Login(context.Background(), "bob@example.com", "correct-horse")
	require.Equal(t, http.StatusNotFound, apperrors.Status(err))

	_, err = env.svc.Login(context.Background(), "ada@example.com", "wrong-password")
	require.Equal(t, http.StatusUnauthorized, apperrors.Status(err))

	_, err = env.svc.Login(context.Background(), "", "")
	require.Equal(t, http.StatusBadRequest, apperrors.Status(err))
}

func TestRefreshAndSignout(t *testing.T) {
	env := newTestEnv(t)
	ctx, _, pair := env.register(t, "ada@example.com")

	next, err := env.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = env.svc.Refresh(context.Background(), pair.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, apperrors.Status(err))

	require.NoError(t, env.svc.Signout(ctx))
	_, err = env.svc.Refresh(context.Background(), next.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, apperrors.Status(err))

	_, err = env.svc.Refresh(context.Background(), "garbage")
	require.Equal(t, http.StatusUnauthorized, apperrors.Status(err))
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.GetMyself(ctx)
	require.Equal(t, http.StatusUnauthorized, apperrors.Status(err))
	_, err = env.svc.InitialData(ctx)
	require.Equal(t, http.StatusUnauthorized, apperrors.Status(err))
	_, err = env.svc.CreateAccount(ctx, "USD")
	require.Equal(t, http.StatusUnauthorized, apperrors.Status(err))
}

func TestCreateAccountAndCard(t *testing.T) {
	env := newTestEnv(t)
	ctx, _, _ := env.register(t, "ada@example.com")

	account, err := env.svc.CreateAccount(ctx, "usd")
	require.NoError(t, err)
	require.Equal(t, "USD", account.Currency)
	require.True(t, account.Balance.IsZero())

	_, err = env.svc.CreateAccount(ctx, "dollars")
	require.Equal(t, http.StatusBadRequest, apperrors.Status(err))

	card, err := env.svc.CreateCard(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, card.CardNumber, 16)
	require.NotEmpty(t, card.HMAC)

	// primary account and card are still the ones opened at signup
	primary, err := env.svc.GetMyAccount(ctx)
	require.NoError(t, err)
	require.NotEqual(t, account.ID, primary.ID)

	otherCtx, _, _ := env.register(t, "bob@example.com")
	_, err = env.svc.CreateCard(otherCtx, account.ID)
	require.Equal(t, http.StatusForbidden, apperrors.Status(err))

	_, err = env.svc.CreateCard(ctx, 99999)
	require.Equal(t, http.StatusNotFound, apperrors.Status(err))
}

func TestDepositWithdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx, _, _ := env.register(t, "ada@example.com")
	account, err := env.svc.GetMyAccount(ctx)
	require.NoError(t, err)

	updated, tx, err := env.svc.Deposit(ctx, account.ID, decimal.RequireFromString("100.25"), "salary")
	require.NoError(t, err)
	require.Equal(t, models.TransactionDeposit, tx.Type)
	require.True(t, updated.Balance.Equal(decimal.RequireFromString("600.25")))

	updated, tx, err = env.svc.Withdraw(ctx, account.ID, decimal.NewFromInt(50), "")
	require.NoError(t, err)
	require.True(t, tx.Amount.Equal(decimal.NewFromInt(-50)))
	require.True(t, updated.Balance.Equal(decimal.RequireFromString("550.25")))

	_, _, err = env.svc.Withdraw(ctx, account.ID, decimal.NewFromInt(10000), "")
	require.Equal(t, http.StatusBadRequest, apperrors.Status(err))

	_, _, err = env.svc.Deposit(ctx, account.ID, decimal.NewFromInt(-5), "")
	require.Equal(t, http.StatusBadRequest, apperrors.Status(err))

	_, _, err = env.svc.Deposit(ctx, account.ID, decimal.RequireFromString("0.001"), "")
	require.Equal(t, http.StatusBadRequest, apperrors.Status(err))

	history, err := env.svc.GetMyHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.TransactionWithdrawal, history[0].Type)
	require.Equal(t, models.TransactionDeposit, history[1].Type)

	require.Contains(t, env.notifier.sent, sentMail{to: "ada@example.com", kind: models.TransactionDeposit})
	require.Contains(t, env.notifier.sent, sentMail{to: "ada@example.com", kind: models.TransactionWithdrawal})
}

func TestInitialData(t *testing.T) {
	env := newTestEnv(t)
	ctx, user, _ := env.register(t, "ada@example.com")

	data, err := env.svc.InitialData(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, data.User.ID)
	assert.Equal(t, user.ID, data.Account.UserID)
	assert.Equal(t, data.Account.ID, data.Card.AccountID)
	assert.Contains(t, data.Card.CardNumber, "******")
	assert.Len(t, data.History, 1)
}

func TestStorageError_CanceledIsNotLogged(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	svc := &Service{log: log}

	err := svc.storageError(fmt.Errorf("failed to find card: %w", context.Canceled), "card of user", "1")
	require.Equal(t, http.StatusServiceUnavailable, apperrors.Status(err))
	require.Empty(t, hook.AllEntries())

	err = svc.storageError(errors.New("connection reset"), "card of user", "1")
	require.Equal(t, http.StatusInternalServerError, apperrors.Status(err))
	require.Len(t, hook.AllEntries(), 1)
	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestInitialData_FailsAsWhole(t *testing.T) {
	env := newTestEnv(t)

	// a user without account or card
	user := &models.User{FirstName: "No", LastName: "Account", Email: "bare@example.com", Role: models.RoleUser}
	require.NoError(t, env.repo.CreateUser(context.Background(), user))
	ctx := auth.WithIdentity(context.Background(), &auth.Identity{UserID: user.ID, Role: user.Role})

	for _, sequential := range []bool{false, true} {
		env.svc.aggregator = initialdata.New(sequential, env.svc.log)

		data, err := env.svc.InitialData(ctx)
		require.Nil(t, data)
		require.Equal(t, http.StatusNotFound, apperrors.Status(err))

		var fe *initialdata.FetchError
		require.ErrorAs(t, err, &fe)
		require.Contains(t, []initialdata.Section{initialdata.SectionAccount, initialdata.SectionCard}, fe.Section)
	}
}
