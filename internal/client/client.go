// Package client talks to the Gopay HTTP API the way the browser shell does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/Dan9191/gopay/internal/auth"
	"github.com/Dan9191/gopay/internal/initialdata"
	"github.com/Dan9191/gopay/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Client is an API client bound to a base URL and an optional ID token
type Client struct {
	http       *http.Client
	aggregator *initialdata.Aggregator
	log        *logrus.Logger
	now        func() time.Time

	mu      sync.RWMutex
	baseURL string
	token   string
}

// New creates a client. sequential makes GetUserInitialData fetch one section at a time.
func New(baseURL string, sequential bool, log *logrus.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		aggregator: initialdata.New(sequential, log),
		log:        log,
		now:        time.Now,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// UpdateAPIConfig points the client at baseURL and authenticates later calls with token.
// An empty baseURL keeps the current one.
func (c *Client) UpdateAPIConfig(baseURL, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	c.token = token
}

func (c *Client) config() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL, c.token
}

// IsValidToken reports whether the current token is a well-formed JWT that has not expired.
// The signature is not checked; the server does that.
func (c *Client) IsValidToken() bool {
	_, token := c.config()
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return c.now().Before(claims.ExpiresAt.Time)
}

// SignupRequest is the body of POST /api/register
type SignupRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Register signs up a user and keeps the returned ID token
func (c *Client) Register(ctx context.Context, in SignupRequest) (*models.User, error) {
	var resp struct {
		User   *models.User   `json:"user"`
		Tokens auth.TokenPair `json:"tokens"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/register", in, &resp); err != nil {
		return nil, err
	}
	c.UpdateAPIConfig("", resp.Tokens.IDToken)
	return resp.User, nil
}

// Login authenticates and keeps the returned ID token
func (c *Client) Login(ctx context.Context, email, password string) (*auth.TokenPair, error) {
	var resp struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/login", body, &resp); err != nil {
		return nil, err
	}
	c.UpdateAPIConfig("", resp.Tokens.IDToken)
	return &resp.Tokens, nil
}

func (c *Client) GetMyself(ctx context.Context) (*models.User, error) {
	var user *models.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &user); err != nil {
		return nil, err
	}
	return user, nil
}

func (c *Client) GetMyAccount(ctx context.Context) (*models.Account, error) {
	var account *models.Account
	if err := c.do(ctx, http.MethodGet, "/api/me/account", nil, &account); err != nil {
		return nil, err
	}
	return account, nil
}

func (c *Client) GetMyCard(ctx context.Context) (*models.Card, error) {
	var card *models.Card
	if err := c.do(ctx, http.MethodGet, "/api/me/card", nil, &card); err != nil {
		return nil, err
	}
	return card, nil
}

// GetMyHistory returns the latest transactions; limit <= 0 uses the server default
func (c *Client) GetMyHistory(ctx context.Context, limit int) ([]models.Transaction, error) {
	path := "/api/me/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var history []models.Transaction
	if err := c.do(ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// GetUserInitialData loads profile, account, card and history.
// Any failed call fails the whole result with an *initialdata.FetchError.
func (c *Client) GetUserInitialData(ctx context.Context) (*models.InitialData, error) {
	return c.aggregator.Collect(ctx, initialdata.Sources{
		User:    c.GetMyself,
		Account: c.GetMyAccount,
		Card:    c.GetMyCard,
		History: func(ctx context.Context) ([]models.Transaction, error) {
			return c.GetMyHistory(ctx, 0)
		},
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	baseURL, token := c.config()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Debugf("%s %s returned %d: %s", method, path, resp.StatusCode, raw)
		return responseError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// responseError decodes the API error envelope, falling back to the status code
func responseError(status int, raw []byte) error {
	var envelope struct {
		Error *apperrors.Error `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil && envelope.Error.Type != "" {
		return envelope.Error
	}

	e := &apperrors.Error{Type: apperrors.Internal, Message: http.StatusText(status)}
	switch status {
	case http.StatusUnauthorized:
		e.Type = apperrors.Authorization
	case http.StatusForbidden:
		e.Type = apperrors.Forbidden
	case http.StatusNotFound:
		e.Type = apperrors.NotFound
	case http.StatusConflict:
		e.Type = apperrors.Conflict
	case http.StatusRequestEntityTooLarge:
		e.Type = apperrors.PayloadTooLarge
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		e.Type = apperrors.ServiceUnavailable
	default:
		if status < http.StatusInternalServerError {
			e.Type = apperrors.BadRequest
		}
	}
	return e
}
