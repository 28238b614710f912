// internal/handler/webhook_handler.go
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/repository"
	"github.com/unclebandit/inboxintel-backend/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler holds the dependencies for the inbound message endpoints
type WebhookHandler struct {
	Ingestion *service.IngestionService
	Repo      repository.MessageRepositoryInterface
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingestion *service.IngestionService, repo repository.MessageRepositoryInterface) *WebhookHandler {
	return &WebhookHandler{
		Ingestion: ingestion,
		Repo:      repo,
	}
}

type webhookResponse struct {
	Success     bool   `json:"success"`
	MessageID   string `json:"message_id"`
	IsDuplicate bool   `json:"is_duplicate"`
}

// ReceiveMessageHandler stores a message pushed by Guesty
func (h *WebhookHandler) ReceiveMessageHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := h.Ingestion.IngestWebhook(r.Context(), body)
	if err != nil {
		logging.LogError(logging.GetLogger(), "handler", "ReceiveMessageHandler", "failed to save message", nil, err)
		http.Error(w, "failed to save message", http.StatusInternalServerError)
		return
	}
	if outcome.Outcome == service.OutcomeRejected {
		http.Error(w, outcome.Reason, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(webhookResponse{
		Success:     true,
		MessageID:   outcome.ExternalID,
		IsDuplicate: outcome.Outcome == service.OutcomeDuplicate,
	})
}

// StatsHandler returns message counts by pipeline state
func (h *WebhookHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Repo.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to fetch stats: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"stats": stats,
	})
}

// HealthHandler reports that the service is up
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "InboxIntel"})
}
