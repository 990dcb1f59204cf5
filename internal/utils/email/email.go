package email

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/Dan9191/gopay/internal/config"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
	now    func() time.Time
}

// NewSender creates a new email sender.
// Without SMTP_HOST every message is logged and dropped.
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{cfg: cfg, logger: logger, now: time.Now}
	s.send = s.sendSMTP
	return s
}

func (s *Sender) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	return e.Send(addr, auth)
}

func (s *Sender) deliver(to, subject, body string) error {
	if !s.cfg.SMTPEnabled() {
		s.logger.Debugf("SMTP disabled, dropping email to %s: %s", to, subject)
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body + "\nBest regards,\nGopay")

	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, subject)
	return nil
}

// SendWelcome greets a newly registered user
func (s *Sender) SendWelcome(to, name, accountNumber string, bonus decimal.Decimal, currency string) error {
	body := fmt.Sprintf("Dear %s,\n\n", name)
	body += fmt.Sprintf("Welcome to Gopay! Your account %s is ready.\n", accountNumber)
	if bonus.IsPositive() {
		body += fmt.Sprintf("We have credited a welcome bonus of %s %s.\n", bonus.StringFixed(2), currency)
	}
	return s.deliver(to, "Welcome to Gopay", body)
}

// SendTransactionNotification sends a notification email for deposit or withdrawal
func (s *Sender) SendTransactionNotification(to, name, accountNumber string, amount decimal.Decimal, transactionType string, balance decimal.Decimal, currency string) error {
	title := "Transaction"
	if transactionType != "" {
		title = strings.ToUpper(transactionType[:1]) + transactionType[1:]
	}
	at := s.now().Format("2006-01-02 15:04:05")

	body := fmt.Sprintf("Dear %s,\n\n", name)
	switch transactionType {
	case "deposit", "bonus":
		body += fmt.Sprintf("Your account %s has been credited with %s %s.\n", accountNumber, amount.Abs().StringFixed(2), currency)
	default:
		body += fmt.Sprintf("An amount of %s %s has been withdrawn from your account %s.\n", amount.Abs().StringFixed(2), currency, accountNumber)
	}
	body += fmt.Sprintf("Transaction time: %s\nCurrent balance: %s %s\n", at, balance.StringFixed(2), currency)

	return s.deliver(to, fmt.Sprintf("%s Notification", title), body)
}
