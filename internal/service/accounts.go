package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/Dan9191/gopay/internal/events"
	"github.com/Dan9191/gopay/internal/initialdata"
	"github.com/Dan9191/gopay/internal/models"
	"github.com/Dan9191/gopay/internal/repository"
	"github.com/Dan9191/gopay/internal/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const accountNumberAttempts = 3

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// openAccount creates an empty account with a fresh number
func (s *Service) openAccount(ctx context.Context, userID int64, currency string) (*models.Account, error) {
	for attempt := 1; ; attempt++ {
		number, err := utils.GenerateAccountNumber()
		if err != nil {
			s.log.Errorf("Failed to generate account number: %v", err)
			return nil, apperrors.NewInternal()
		}

		account := &models.Account{
			UserID:   userID,
			Number:   number,
			Balance:  decimal.Zero,
			Currency: currency,
		}
		err = s.repo.CreateAccount(ctx, account)
		if errors.Is(err, repository.ErrAccountNumberTaken) && attempt < accountNumberAttempts {
			continue
		}
		if err != nil {
			return nil, s.storageError(err, "account", number)
		}

		s.log.Infof("Account %s created for user %d: %s", account.Number, userID, account.Currency)
		s.publish(ctx, events.New(events.TypeAccountOpened, userID, map[string]any{
			"account_id": account.ID,
			"currency":   account.Currency,
		}))
		return account, nil
	}
}

// CreateAccount creates a new account for the authenticated user
func (s *Service) CreateAccount(ctx context.Context, currency string) (*models.Account, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	if !currencyPattern.MatchString(currency) {
		return nil, apperrors.NewBadRequest("currency must be a three letter ISO code")
	}

	return s.openAccount(ctx, id.UserID, currency)
}

// ownAccount loads an account and checks that the caller owns it
func (s *Service) ownAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, s.storageError(err, "account", itoa(accountID))
	}
	if account.UserID != id.UserID {
		return nil, apperrors.NewForbidden("account does not belong to user")
	}
	return account, nil
}

// issueCard generates card details and stores them encrypted.
// The returned card carries the plain number and expiry date.
func (s *Service) issueCard(ctx context.Context, account *models.Account) (*models.Card, error) {
	card, err := s.newCard()
	if err != nil {
		return nil, err
	}
	card.AccountID = account.ID
	if err := s.repo.CreateCard(ctx, card); err != nil {
		return nil, s.storageError(err, "card for account", itoa(account.ID))
	}

	s.publish(ctx, events.New(events.TypeCardIssued, account.UserID, map[string]any{
		"card_id":    card.ID,
		"account_id": account.ID,
	}))
	s.log.Infof("Card created for account %d", account.ID)
	return s.revealCard(card)
}

// newCard generates card details ready to store: number and expiry encrypted, CVV hashed
func (s *Service) newCard() (*models.Card, error) {
	key, err := s.config.EncryptionKeyBytes()
	if err != nil {
		s.log.Errorf("Card encryption key unusable: %v", err)
		return nil, apperrors.NewInternal()
	}

	cardNumber, err := utils.GenerateCardNumber(s.config.CardBIN)
	if err != nil {
		s.log.Errorf("Failed to generate card number: %v", err)
		return nil, apperrors.NewInternal()
	}
	expiryDate := utils.GenerateExpiryDate(time.Now())
	cvv, err := utils.GenerateCVV()
	if err != nil {
		s.log.Errorf("Failed to generate CVV: %v", err)
		return nil, apperrors.NewInternal()
	}

	encryptedCardNumber, err := utils.Encrypt(cardNumber, key)
	if err != nil {
		s.log.Errorf("Failed to encrypt card number: %v", err)
		return nil, apperrors.NewInternal()
	}
	encryptedExpiryDate, err := utils.Encrypt(expiryDate, key)
	if err != nil {
		s.log.Errorf("Failed to encrypt expiry date: %v", err)
		return nil, apperrors.NewInternal()
	}
	cvvHash, err := bcrypt.GenerateFromPassword([]byte(cvv), bcrypt.DefaultCost)
	if err != nil {
		s.log.Errorf("Failed to hash CVV: %v", err)
		return nil, apperrors.NewInternal()
	}

	return &models.Card{
		CardNumber: encryptedCardNumber,
		ExpiryDate: encryptedExpiryDate,
		CVV:        string(cvvHash),
		HMAC:       utils.GenerateHMAC(cardNumber, expiryDate, cvv, s.config.HMACSecret),
	}, nil
}

// revealCard returns a copy of a stored card with the number and expiry decrypted
func (s *Service) revealCard(card *models.Card) (*models.Card, error) {
	key, err := s.config.EncryptionKeyBytes()
	if err != nil {
		s.log.Errorf("Card encryption key unusable: %v", err)
		return nil, apperrors.NewInternal()
	}
	number, err := utils.Decrypt(card.CardNumber, key)
	if err != nil {
		s.log.Errorf("Failed to decrypt card %d: %v", card.ID, err)
		return nil, apperrors.NewInternal()
	}
	expiry, err := utils.Decrypt(card.ExpiryDate, key)
	if err != nil {
		s.log.Errorf("Failed to decrypt card %d: %v", card.ID, err)
		return nil, apperrors.NewInternal()
	}

	revealed := *card
	revealed.CardNumber = number
	revealed.ExpiryDate = expiry
	revealed.CVV = ""
	return &revealed, nil
}

// CreateCard creates a new card for the specified account
func (s *Service) CreateCard(ctx context.Context, accountID int64) (*models.Card, error) {
	account, err := s.ownAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.issueCard(ctx, account)
}

// GetMyAccount returns the caller's primary account
func (s *Service) GetMyAccount(ctx context.Context) (*models.Account, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindPrimaryAccount(ctx, id.UserID)
	if err != nil {
		return nil, s.storageError(err, "account of user", itoa(id.UserID))
	}
	return account, nil
}

// GetMyCard returns the caller's primary card with a masked number
func (s *Service) GetMyCard(ctx context.Context) (*models.Card, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	card, err := s.repo.FindPrimaryCard(ctx, id.UserID)
	if err != nil {
		return nil, s.storageError(err, "card of user", itoa(id.UserID))
	}

	card, err = s.revealCard(card)
	if err != nil {
		return nil, err
	}
	card.CardNumber = utils.MaskCardNumber(card.CardNumber)
	return card, nil
}

// GetMyHistory returns the caller's latest transactions across all accounts, newest first
func (s *Service) GetMyHistory(ctx context.Context, limit int) ([]models.Transaction, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	history, err := s.repo.ListTransactions(ctx, id.UserID, limit)
	if err != nil {
		return nil, s.storageError(err, "history of user", itoa(id.UserID))
	}
	return history, nil
}

// InitialData returns profile, account, card and history in one call, or fails as a whole
func (s *Service) InitialData(ctx context.Context) (*models.InitialData, error) {
	return s.aggregator.Collect(ctx, initialdata.Sources{
		User:    s.GetMyself,
		Account: s.GetMyAccount,
		Card:    s.GetMyCard,
		History: func(ctx context.Context) ([]models.Transaction, error) {
			return s.GetMyHistory(ctx, DefaultHistoryLimit)
		},
	})
}

// Deposit credits amount to one of the caller's accounts
func (s *Service) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal, description string) (*models.Account, *models.Transaction, error) {
	return s.move(ctx, accountID, amount, models.TransactionDeposit, description)
}

// Withdraw debits amount from one of the caller's accounts
func (s *Service) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal, description string) (*models.Account, *models.Transaction, error) {
	return s.move(ctx, accountID, amount, models.TransactionWithdrawal, description)
}

func (s *Service) move(ctx context.Context, accountID int64, amount decimal.Decimal, kind, description string) (*models.Account, *models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, nil, apperrors.NewBadRequest("amount must be positive")
	}
	if !amount.Round(2).Equal(amount) {
		return nil, nil, apperrors.NewBadRequest("amount must have at most two decimal places")
	}

	account, err := s.ownAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	signed := amount
	if kind == models.TransactionWithdrawal {
		signed = amount.Neg()
	}
	return s.applyTransaction(ctx, account, &models.Transaction{
		AccountID:   account.ID,
		Amount:      signed,
		Type:        kind,
		Description: strings.TrimSpace(description),
	})
}

// applyTransaction stores tx, then publishes and notifies about it
func (s *Service) applyTransaction(ctx context.Context, account *models.Account, tx *models.Transaction) (*models.Account, *models.Transaction, error) {
	updated, err := s.repo.ApplyTransaction(ctx, tx)
	if err != nil {
		return nil, nil, s.storageError(err, "account", itoa(account.ID))
	}
	s.publishTransaction(ctx, updated, tx)
	s.notifyTransaction(ctx, updated, tx)
	return updated, tx, nil
}

func (s *Service) publishTransaction(ctx context.Context, account *models.Account, tx *models.Transaction) {
	s.log.Infof("Transaction %d (%s %s) applied to account %d", tx.ID, tx.Type, tx.Amount.String(), account.ID)
	s.publish(ctx, events.New(events.TypeTransactionCreated, account.UserID, map[string]any{
		"transaction_id": tx.ID,
		"account_id":     account.ID,
		"amount":         tx.Amount.String(),
		"type":           tx.Type,
	}))
}

func (s *Service) notifyTransaction(ctx context.Context, account *models.Account, tx *models.Transaction) {
	user, err := s.repo.FindUserByID(ctx, account.UserID)
	if err != nil {
		s.log.Warnf("Transaction %d: owner %d not loaded for notification: %v", tx.ID, account.UserID, err)
		return
	}
	err = s.notifier.SendTransactionNotification(user.Email, user.FirstName, account.Number, tx.Amount, tx.Type, account.Balance, account.Currency)
	if err != nil {
		s.log.Warnf("Transaction %d notification not sent: %v", tx.ID, err)
	}
}
