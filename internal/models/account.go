package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a money account owned by a user
type Account struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Number    string          `json:"number"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
