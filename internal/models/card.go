package models

import "time"

// Card represents a bank card.
// In storage CardNumber and ExpiryDate hold ciphertext and CVV holds a bcrypt hash.
// Cards returned to clients carry a masked number and a plain expiry date.
type Card struct {
	ID         int64     `json:"id"`
	AccountID  int64     `json:"account_id"`
	CardNumber string    `json:"card_number"`
	ExpiryDate string    `json:"expiry_date"`
	CVV        string    `json:"-"` // Not serialized
	HMAC       string    `json:"hmac"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
