package api

import (
	"context"
	"encoding/json"
	"net/http"

	"outreachmail/internal/provider"
	"outreachmail/pkg/models"

	"github.com/gorilla/mux"
)

// DeliverySender is the failover-send surface the email API exposes.
// *provider.FailoverSender implements it.
type DeliverySender interface {
	Send(ctx context.Context, msg *models.Message) (*models.DeliveryResult, error)
}

// EmailAPI exposes the delivery failover sender to the platform's route
// layer.
type EmailAPI struct {
	sender DeliverySender
}

func NewEmailAPI(sender DeliverySender) *EmailAPI {
	return &EmailAPI{sender: sender}
}

func (api *EmailAPI) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/email/send", api.SendEmail).Methods("POST")
}

func (api *EmailAPI) SendEmail(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	result, err := api.sender.Send(r.Context(), &msg)
	if err != nil {
		if provider.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "send failed")
		return
	}

	// Delivery failures ride in the result body so operators see which
	// providers were attempted and why each failed.
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}
