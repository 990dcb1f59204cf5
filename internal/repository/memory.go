package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/gopay/internal/models"
)

// Memory is an in-process Repository used with REPO_BACKEND=mem and in tests
type Memory struct {
	mu sync.RWMutex

	users        []*models.User
	accounts     []*models.Account
	cards        []*models.Card
	transactions []*models.Transaction

	emails   map[string]struct{}
	numbers  map[string]struct{}
	sequence int64
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		emails:  make(map[string]struct{}),
		numbers: make(map[string]struct{}),
	}
}

func (r *Memory) nextID() int64 {
	r.sequence++
	return r.sequence
}

func (r *Memory) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.emails[user.Email]; ok {
		return fmt.Errorf("email %s: %w", user.Email, ErrEmailTaken)
	}
	r.storeUser(user)
	return nil
}

func (r *Memory) storeUser(user *models.User) {
	now := time.Now().UTC()
	user.ID = r.nextID()
	user.CreatedAt, user.UpdatedAt = now, now

	stored := *user
	r.users = append(r.users, &stored)
	r.emails[user.Email] = struct{}{}
}

// RegisterUser checks every constraint before storing anything, so a failed
// registration leaves no trace
func (r *Memory) RegisterUser(_ context.Context, reg *Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.emails[reg.User.Email]; ok {
		return fmt.Errorf("email %s: %w", reg.User.Email, ErrEmailTaken)
	}
	if _, ok := r.numbers[reg.Account.Number]; ok {
		return fmt.Errorf("account number %s: %w", reg.Account.Number, ErrAccountNumberTaken)
	}
	if reg.Bonus != nil && reg.Account.Balance.Add(reg.Bonus.Amount).IsNegative() {
		return ErrInsufficientFunds
	}

	r.storeUser(reg.User)
	reg.Account.UserID = reg.User.ID
	r.storeAccount(reg.Account)
	if reg.Bonus != nil {
		reg.Bonus.AccountID = reg.Account.ID
		account, err := r.applyLocked(reg.Bonus)
		if err != nil {
			return err
		}
		*reg.Account = *account
	}
	reg.Card.AccountID = reg.Account.ID
	r.storeCard(reg.Card)
	return nil
}

func (r *Memory) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			found := *u
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *Memory) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.ID == id {
			found := *u
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *Memory) ListUsers(_ context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, *u)
	}
	return users, nil
}

func (r *Memory) CreateAccount(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.numbers[account.Number]; ok {
		return fmt.Errorf("account number %s: %w", account.Number, ErrAccountNumberTaken)
	}
	r.storeAccount(account)
	return nil
}

func (r *Memory) storeAccount(account *models.Account) {
	now := time.Now().UTC()
	account.ID = r.nextID()
	account.CreatedAt, account.UpdatedAt = now, now

	stored := *account
	r.accounts = append(r.accounts, &stored)
	r.numbers[account.Number] = struct{}{}
}

func (r *Memory) findAccount(id int64) *models.Account {
	for _, a := range r.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (r *Memory) FindAccountByID(_ context.Context, id int64) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a := r.findAccount(id); a != nil {
		found := *a
		return &found, nil
	}
	return nil, ErrNotFound
}

func (r *Memory) FindPrimaryAccount(_ context.Context, userID int64) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.UserID == userID {
			found := *a
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *Memory) CreateCard(_ context.Context, card *models.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findAccount(card.AccountID) == nil {
		return fmt.Errorf("account %d: %w", card.AccountID, ErrNotFound)
	}
	r.storeCard(card)
	return nil
}

func (r *Memory) storeCard(card *models.Card) {
	now := time.Now().UTC()
	card.ID = r.nextID()
	card.CreatedAt, card.UpdatedAt = now, now

	stored := *card
	r.cards = append(r.cards, &stored)
}

func (r *Memory) FindPrimaryCard(_ context.Context, userID int64) (*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.cards {
		if a := r.findAccount(c.AccountID); a != nil && a.UserID == userID {
			found := *c
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *Memory) ApplyTransaction(_ context.Context, t *models.Transaction) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(t)
}

func (r *Memory) applyLocked(t *models.Transaction) (*models.Account, error) {
	a := r.findAccount(t.AccountID)
	if a == nil {
		return nil, ErrNotFound
	}
	balance := a.Balance.Add(t.Amount)
	if balance.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	a.Balance = balance
	a.UpdatedAt = now

	t.ID = r.nextID()
	t.CreatedAt = now
	stored := *t
	r.transactions = append(r.transactions, &stored)

	updated := *a
	return &updated, nil
}

func (r *Memory) ListTransactions(_ context.Context, userID int64, limit int) ([]models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := []models.Transaction{}
	for _, t := range r.transactions {
		if a := r.findAccount(t.AccountID); a != nil && a.UserID == userID {
			history = append(history, *t)
		}
	}
	sort.SliceStable(history, func(i, j int) bool { return history[i].ID > history[j].ID })
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}
