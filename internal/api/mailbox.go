package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"outreachmail/internal/token"
	"outreachmail/pkg/models"

	"github.com/gorilla/mux"
)

// TokenService is the token-lifecycle surface the mailbox API exposes.
// *token.Manager implements it.
type TokenService interface {
	BuildAuthorizationURL(userID string) string
	ExchangeCode(ctx context.Context, code, userID string) (*models.TokenRecord, error)
	GetAuthorizationStatus(ctx context.Context, userID string) (*models.AuthorizationStatus, error)
	SendViaToken(ctx context.Context, userID string, msg *models.Message) (*models.ProviderSendResult, error)
	SyncRecentMessages(ctx context.Context, userID string, maxCount int) (int, error)
	ListMessages(ctx context.Context, userID string, limit int) ([]*models.MessageRecord, error)
}

// MailboxAPI exposes the token lifecycle manager to the platform's route
// layer.
type MailboxAPI struct {
	tokens TokenService
}

func NewMailboxAPI(tokens TokenService) *MailboxAPI {
	return &MailboxAPI{tokens: tokens}
}

func (api *MailboxAPI) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/mailbox/auth-url", api.GetAuthURL).Methods("GET")
	router.HandleFunc("/api/mailbox/oauth/callback", api.OAuthCallback).Methods("GET")
	router.HandleFunc("/api/mailbox/status", api.GetStatus).Methods("GET")
	router.HandleFunc("/api/mailbox/send", api.SendMessage).Methods("POST")
	router.HandleFunc("/api/mailbox/sync", api.SyncMessages).Methods("POST")
	router.HandleFunc("/api/mailbox/messages", api.ListMessages).Methods("GET")
}

func (api *MailboxAPI) GetAuthURL(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation", "user_id is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url": api.tokens.BuildAuthorizationURL(userID),
	})
}

func (api *MailboxAPI) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	userID := r.URL.Query().Get("state")

	if code == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "validation", "code and state are required")
		return
	}

	rec, err := api.tokens.ExchangeCode(r.Context(), code, userID)
	if err != nil {
		if token.IsExchangeError(err) {
			// The code is spent either way; the user must restart consent.
			writeError(w, http.StatusBadRequest, "exchange_failed",
				"authorization failed, please retry from the start")
			return
		}
		log.Printf("OAuth callback failed for user %s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "provider_unavailable", "mailbox provider did not respond")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected": true,
		"mailbox":   rec.MailboxEmail,
	})
}

func (api *MailboxAPI) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation", "user_id is required")
		return
	}

	status, err := api.tokens.GetAuthorizationStatus(r.Context(), userID)
	if err != nil {
		log.Printf("Status query failed for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load authorization status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

type mailboxSendRequest struct {
	UserID  string          `json:"user_id"`
	Message *models.Message `json:"message"`
}

func (api *MailboxAPI) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req mailboxSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.UserID == "" || req.Message == nil {
		writeError(w, http.StatusBadRequest, "validation", "user_id and message are required")
		return
	}

	result, err := api.tokens.SendViaToken(r.Context(), req.UserID, req.Message)
	if err != nil {
		api.writeTokenError(w, req.UserID, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type syncRequest struct {
	UserID   string `json:"user_id"`
	MaxCount int    `json:"max_count"`
}

func (api *MailboxAPI) SyncMessages(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "validation", "user_id is required")
		return
	}

	count, err := api.tokens.SyncRecentMessages(r.Context(), req.UserID, req.MaxCount)
	if err != nil {
		api.writeTokenError(w, req.UserID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"new_messages": count})
}

func (api *MailboxAPI) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation", "user_id is required")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	records, err := api.tokens.ListMessages(r.Context(), userID, limit)
	if err != nil {
		log.Printf("Message list failed for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load messages")
		return
	}
	if records == nil {
		records = []*models.MessageRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": records,
		"count":    len(records),
	})
}

// writeTokenError maps token-manager failures onto the retry-vs-reconnect
// vocabulary the UI needs.
func (api *MailboxAPI) writeTokenError(w http.ResponseWriter, userID string, err error) {
	var rejected *token.SendRejectedError
	switch {
	case token.IsValidationError(err):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case token.IsReauthRequired(err):
		writeError(w, http.StatusUnauthorized, "reauth_required",
			"mailbox connection expired, please reconnect your account")
	case errors.As(err, &rejected):
		writeError(w, http.StatusUnprocessableEntity, "send_rejected", rejected.Message)
	default:
		log.Printf("Mailbox operation failed for user %s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "provider_unavailable", "mailbox provider did not respond")
	}
}
