package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/Dan9191/gopay/internal/models"
	"github.com/Dan9191/gopay/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// KeyRateSource serves the current key rate
type KeyRateSource interface {
	Current(ctx context.Context) (*models.KeyRate, error)
}

type Handler struct {
	svc      *service.Service
	keyRates KeyRateSource
	log      *logrus.Logger
}

func NewHandler(svc *service.Service, keyRates KeyRateSource, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, keyRates: keyRates, log: log}
}

type tokensRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type createAccountRequest struct {
	Currency string `json:"currency"`
}

type moneyRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	user, tokens, err := h.svc.Register(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"user": user, "tokens": tokens})
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	tokens, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

// Tokens exchanges a refresh token for a new pair
func (h *Handler) Tokens(w http.ResponseWriter, r *http.Request) {
	var req tokensRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.RefreshToken == "" {
		respondError(w, apperrors.NewBadRequest("refreshToken is required"))
		return
	}

	tokens, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (h *Handler) Signout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Signout(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "user signed out successfully"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetMyself(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) MyAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.GetMyAccount(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

func (h *Handler) MyCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.GetMyCard(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

func (h *Handler) MyHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, apperrors.NewBadRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	history, err := h.svc.GetMyHistory(r.Context(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// InitialData returns user, account, card and history together
func (h *Handler) InitialData(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.InitialData(r.Context())
	if err != nil {
		h.log.Warnf("Initial data request failed: %v", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, data)
}

// CreateAccount handles account creation
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, err)
			return
		}
	}

	account, err := h.svc.CreateAccount(r.Context(), req.Currency)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, account)
}

func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	card, err := h.svc.CreateCard(r.Context(), accountID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, card)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.svc.Deposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.svc.Withdraw)
}

type moveFunc func(ctx context.Context, accountID int64, amount decimal.Decimal, description string) (*models.Account, *models.Transaction, error)

func (h *Handler) move(w http.ResponseWriter, r *http.Request, apply moveFunc) {
	accountID, err := accountIDFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req moneyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	account, tx, err := apply(r.Context(), accountID, req.Amount, req.Description)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"account": account, "transaction": tx})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// KeyRate serves the central bank key rate with the bank margin
func (h *Handler) KeyRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.keyRates.Current(r.Context())
	if err != nil {
		h.log.Errorf("Failed to get key rate: %v", err)
		respondError(w, apperrors.NewServiceUnavailable())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"key_rate": rate.Rate, "fetched_at": rate.FetchedAt})
}

func accountIDFrom(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		return 0, apperrors.NewBadRequest("invalid account id")
	}
	return id, nil
}
