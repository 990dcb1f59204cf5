package models

// InitialData is everything a client needs right after sign-in.
// All four fields are set or the value is not produced at all.
type InitialData struct {
	User    *User         `json:"user"`
	Account *Account      `json:"account"`
	Card    *Card         `json:"card"`
	History []Transaction `json:"history"`
}
