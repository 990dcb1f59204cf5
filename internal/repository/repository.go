package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/gopay/internal/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrEmailTaken         = fmt.Errorf("email already registered: %w", ErrConflict)
	ErrAccountNumberTaken = fmt.Errorf("account number already in use: %w", ErrConflict)
)

// Registration is everything a signup stores. RegisterUser writes all of it or nothing.
// Bonus is optional. On success the IDs are filled in and Account carries the credited balance.
type Registration struct {
	User    *models.User
	Account *models.Account
	Bonus   *models.Transaction
	Card    *models.Card
}

// Repository is the storage used by the service layer
type Repository interface {
	CreateUser(ctx context.Context, user *models.User) error
	RegisterUser(ctx context.Context, reg *Registration) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccountByID(ctx context.Context, id int64) (*models.Account, error)
	FindPrimaryAccount(ctx context.Context, userID int64) (*models.Account, error)

	CreateCard(ctx context.Context, card *models.Card) error
	FindPrimaryCard(ctx context.Context, userID int64) (*models.Card, error)

	// ApplyTransaction records tx and moves the account balance by tx.Amount.
	// A negative resulting balance fails with ErrInsufficientFunds and changes nothing.
	ApplyTransaction(ctx context.Context, tx *models.Transaction) (*models.Account, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error)
}

// Postgres provides database operations on the bank schema
type Postgres struct {
	db *sql.DB
}

var _ Repository = (*Postgres)(nil)

// NewPostgres initializes a new postgres repository
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateUser creates a new user in the database
func (r *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	return insertUser(ctx, r.db, user)
}

func insertUser(ctx context.Context, q queryer, user *models.User) error {
	query := `
		INSERT INTO bank.users (first_name, last_name, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := q.QueryRowContext(ctx, query, user.FirstName, user.LastName, user.Email, user.PasswordHash, user.Role).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s: %w", user.Email, ErrEmailTaken)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// RegisterUser stores the user, the account, the optional bonus and the card in one transaction
func (r *Postgres) RegisterUser(ctx context.Context, reg *Registration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertUser(ctx, tx, reg.User); err != nil {
		return err
	}
	reg.Account.UserID = reg.User.ID
	if err := insertAccount(ctx, tx, reg.Account); err != nil {
		return err
	}
	if reg.Bonus != nil {
		reg.Bonus.AccountID = reg.Account.ID
		account, err := applyTransaction(ctx, tx, reg.Bonus)
		if err != nil {
			return err
		}
		*reg.Account = *account
	}
	reg.Card.AccountID = reg.Account.ID
	if err := insertCard(ctx, tx, reg.Card); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registration: %w", err)
	}
	return nil
}

const userColumns = `id, first_name, last_name, email, password_hash, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindUserByEmail retrieves a user by email
func (r *Postgres) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM bank.users WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUserByID retrieves a user by id
func (r *Postgres) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM bank.users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

func (r *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM bank.users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// CreateAccount creates a new account in the database
func (r *Postgres) CreateAccount(ctx context.Context, account *models.Account) error {
	return insertAccount(ctx, r.db, account)
}

func insertAccount(ctx context.Context, q queryer, account *models.Account) error {
	query := `
		INSERT INTO bank.accounts (user_id, number, balance, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := q.QueryRowContext(ctx, query, account.UserID, account.Number, account.Balance, account.Currency).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("account number %s: %w", account.Number, ErrAccountNumberTaken)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

const accountColumns = `id, user_id, number, balance, currency, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	a := &models.Account{}
	if err := row.Scan(&a.ID, &a.UserID, &a.Number, &a.Balance, &a.Currency, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *Postgres) FindAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM bank.accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// FindPrimaryAccount returns the user's oldest account
func (r *Postgres) FindPrimaryAccount(ctx context.Context, userID int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM bank.accounts WHERE user_id = $1 ORDER BY id LIMIT 1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

func (r *Postgres) CreateCard(ctx context.Context, card *models.Card) error {
	return insertCard(ctx, r.db, card)
}

func insertCard(ctx context.Context, q queryer, card *models.Card) error {
	query := `
		INSERT INTO bank.cards (account_id, card_number, expiry_date, cvv, hmac, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := q.QueryRowContext(ctx, query, card.AccountID, card.CardNumber, card.ExpiryDate, card.CVV, card.HMAC).
		Scan(&card.ID, &card.CreatedAt, &card.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("card: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

// FindPrimaryCard returns the oldest card across the user's accounts
func (r *Postgres) FindPrimaryCard(ctx context.Context, userID int64) (*models.Card, error) {
	query := `
		SELECT c.id, c.account_id, c.card_number, c.expiry_date, c.cvv, c.hmac, c.created_at, c.updated_at
		FROM bank.cards c
		JOIN bank.accounts a ON a.id = c.account_id
		WHERE a.user_id = $1
		ORDER BY c.id
		LIMIT 1`
	card := &models.Card{}
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&card.ID, &card.AccountID, &card.CardNumber, &card.ExpiryDate, &card.CVV, &card.HMAC, &card.CreatedAt, &card.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

func (r *Postgres) ApplyTransaction(ctx context.Context, t *models.Transaction) (*models.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := applyTransaction(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return account, nil
}

// applyTransaction locks the account row, moves its balance and records t inside tx
func applyTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction) (*models.Account, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, `SELECT balance FROM bank.accounts WHERE id = $1 FOR UPDATE`, t.AccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	balance = balance.Add(t.Amount)
	if balance.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	account, err := scanAccount(tx.QueryRowContext(ctx, `
		UPDATE bank.accounts SET balance = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING `+accountColumns, t.AccountID, balance))
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO bank.transactions (account_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at`, t.AccountID, t.Amount, t.Type, t.Description).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return account, nil
}

// ListTransactions returns the user's latest transactions, newest first
func (r *Postgres) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	query := `
		SELECT t.id, t.account_id, t.amount, t.type, t.description, t.created_at
		FROM bank.transactions t
		JOIN bank.accounts a ON a.id = t.account_id
		WHERE a.user_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	history := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Type, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		history = append(history, t)
	}
	return history, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
