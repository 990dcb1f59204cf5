package email

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Dan9191/gopay/internal/config"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestSender(host string) (*Sender, *[]*email.Email) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	var sent []*email.Email
	s := NewSender(&config.Config{SMTPHost: host, SMTPPort: "25", SenderEmail: "no-reply@gopay.local"}, log)
	s.send = func(e *email.Email) error {
		sent = append(sent, e)
		return nil
	}
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, &sent
}

func TestSendWelcome(t *testing.T) {
	s, sent := newTestSender("smtp.local")

	require.NoError(t, s.SendWelcome("ada@example.com", "Ada", "1234567890", decimal.NewFromInt(500), "RUB"))
	require.Len(t, *sent, 1)

	e := (*sent)[0]
	require.Equal(t, []string{"ada@example.com"}, e.To)
	require.Equal(t, "Welcome to Gopay", e.Subject)
	require.Contains(t, string(e.Text), "1234567890")
	require.Contains(t, string(e.Text), "500.00 RUB")
}

func TestSendTransactionNotification(t *testing.T) {
	s, sent := newTestSender("smtp.local")

	err := s.SendTransactionNotification("ada@example.com", "Ada", "1234567890",
		decimal.NewFromInt(-120), "withdrawal", decimal.NewFromInt(380), "RUB")
	require.NoError(t, err)

	e := (*sent)[0]
	require.Equal(t, "Withdrawal Notification", e.Subject)
	require.Contains(t, string(e.Text), "An amount of 120.00 RUB has been withdrawn from your account 1234567890.")
	require.Contains(t, string(e.Text), "Current balance: 380.00 RUB")
	require.Contains(t, string(e.Text), "2026-01-02 03:04:05")
}

func TestDisabledSMTP(t *testing.T) {
	s, sent := newTestSender("")

	require.NoError(t, s.SendWelcome("ada@example.com", "Ada", "1234567890", decimal.Zero, "RUB"))
	require.Empty(t, *sent)
}

func TestSendFailure(t *testing.T) {
	s, _ := newTestSender("smtp.local")
	cause := errors.New("connection refused")
	s.send = func(*email.Email) error { return cause }

	err := s.SendWelcome("ada@example.com", "Ada", "1234567890", decimal.Zero, "RUB")
	require.ErrorIs(t, err, cause)
}
