package models

import "time"

// KeyRate is the central bank key rate with the bank margin applied
type KeyRate struct {
	Rate      float64   `json:"rate"`
	FetchedAt time.Time `json:"fetched_at"`
}
