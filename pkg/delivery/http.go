package delivery

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/auditdelivery/internal/db"
	"github.com/wisbric/auditdelivery/internal/httpserver"
	"github.com/wisbric/auditdelivery/pkg/secret"
)

// Handler provides the admin HTTP surface over a Service: destination CRUD,
// enqueue/status, health, webhook secrets, and download links.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler builds a Handler for the given Service.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts every admin endpoint under the router it returns. The
// caller mounts this once at the root of the /api/v1 router; each
// sub-router below is keyed to one resource, matching the rest of the admin API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/destinations", func(r chi.Router) {
		r.Get("/", h.listDestinations)
		r.Post("/", h.createDestination)
		r.Get("/{id}", h.getDestination)
		r.Put("/{id}", h.updateDestination)
		r.Delete("/{id}", h.disableDestination)
		r.Post("/{id}/test", h.testDestinationConnection)
		r.Get("/{id}/health", h.getDestinationHealth)
		r.Get("/{id}/secrets", h.listSecrets)
		r.Post("/{id}/secrets", h.createSecret)
		r.Post("/{id}/secrets/rotate", h.rotateSecret)
		r.Post("/{id}/secrets/byos", h.configureBYOS)
	})

	r.Route("/deliveries", func(r chi.Router) {
		r.Post("/", h.enqueue)
		r.Get("/{id}", h.getDeliveryStatus)
	})

	r.Route("/health", func(r chi.Router) {
		r.Get("/unhealthy", h.listUnhealthy)
		r.Get("/summary", h.healthSummary)
	})

	r.Get("/queue/depth", h.queueDepth)

	return r
}

// --- Destinations ---

type destinationResponse struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	Label          string          `json:"label"`
	Type           string          `json:"type"`
	Config         json.RawMessage `json:"config"`
	Disabled       bool            `json:"disabled"`
	CountUsage     int64           `json:"countUsage"`
	CreatedAt      string          `json:"createdAt"`
}

func toDestinationResponse(d db.Destination) destinationResponse {
	return destinationResponse{
		ID:             d.ID,
		OrganizationID: d.OrganizationID,
		Label:          d.Label,
		Type:           string(d.Type),
		Config:         d.Config,
		Disabled:       d.Disabled,
		CountUsage:     d.CountUsage,
		CreatedAt:      d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *Handler) listDestinations(w http.ResponseWriter, r *http.Request) {
	identity := httpserver.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	dests, total, err := h.svc.ListDestinationsPage(r.Context(), identity.OrganizationID, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing destinations", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list destinations")
		return
	}

	out := make([]destinationResponse, 0, len(dests))
	for _, d := range dests {
		out = append(out, toDestinationResponse(d))
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(out, params, total))
}

type createDestinationRequest struct {
	Label  string             `json:"label" validate:"required,max=255"`
	Type   db.DestinationType `json:"type" validate:"required,oneof=webhook email sftp storage download"`
	Config json.RawMessage    `json:"config" validate:"required"`
}

func (h *Handler) createDestination(w http.ResponseWriter, r *http.Request) {
	identity := httpserver.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req createDestinationRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	dest, err := h.svc.CreateDestination(r.Context(), identity.OrganizationID, req.Label, req.Type, req.Config)
	if err != nil {
		h.respondServiceError(w, "creating destination", err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, toDestinationResponse(dest))
}

func (h *Handler) getDestination(w http.ResponseWriter, r *http.Request) {
	identity := httpserver.FromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok || identity == nil {
		return
	}

	dest, err := h.svc.GetDestination(r.Context(), identity.OrganizationID, id)
	if err != nil {
		h.respondServiceError(w, "getting destination", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toDestinationResponse(dest))
}

type updateDestinationRequest struct {
	Type   db.DestinationType `json:"type" validate:"required,oneof=webhook email sftp storage download"`
	Config json.RawMessage    `json:"config" validate:"required"`
}

func (h *Handler) updateDestination(w http.ResponseWriter, r *http.Request) {
	identity := httpserver.FromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok || identity == nil {
		return
	}

	var req updateDestinationRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	dest, err := h.svc.UpdateDestination(r.Context(), identity.OrganizationID, id, req.Type, req.Config)
	if err != nil {
		h.respondServiceError(w, "updating destination", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toDestinationResponse(dest))
}

func (h *Handler) disableDestination(w http.ResponseWriter, r *http.Request) {
	identity := httpserver.FromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok || identity == nil {
		return
	}

	disabledBy := identity.KeyPrefix
	if err := h.svc.DisableDestination(r.Context(), identity.OrganizationID, id, disabledBy); err != nil {
		h.respondServiceError(w, "disabling destination", err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) testDestinationConnection(w http.ResponseWriter, r *http.Request) {
	identity := httpserver.FromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok || identity == nil {
		return
	}

	dest, err := h.svc.GetDestination(r.Context(), identity.OrganizationID, id)
	if err != nil {
		h.respondServiceError(w, "loading destination", err)
		return
	}

	result, err := h.svc.TestConnection(r.Context(), dest.Type, dest.Config)
	if err != nil {
		h.respondServiceError(w, "testing connection", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) getDestinationHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	health, err := h.svc.GetHealth(r.Context(), id)
	if err != nil {
		h.logger.Error("getting destination health", "error", err, "destinationId", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get destination health")
		return
	}
	httpserver.Respond(w, http.StatusOK, health)
}

// --- Webhook secrets ---

type secretResponse struct {
	ID        uuid.UUID `json:"id"`
	Algorithm string    `json:"algorithm"`
	IsPrimary bool      `json:"isPrimary"`
}

func toSecretResponse(s secret.Secret) secretResponse {
	return secretResponse{ID: s.ID, Algorithm: s.Algorithm, IsPrimary: s.IsPrimary}
}

func (h *Handler) listSecrets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	secrets, err := h.svc.GetActiveSecrets(r.Context(), id)
	if err != nil {
		h.logger.Error("listing secrets", "error", err, "destinationId", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list secrets")
		return
	}

	out := make([]secretResponse, 0, len(secrets))
	for _, s := range secrets {
		out = append(out, toSecretResponse(s))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"secrets": out})
}

func (h *Handler) createSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var opts secret.CreateOptions
	if r.ContentLength > 0 {
		if !httpserver.DecodeAndValidate(w, r, &opts) {
			return
		}
	}

	created, err := h.svc.CreateWebhookSecret(r.Context(), id, opts)
	if err != nil {
		h.logger.Error("creating secret", "error", err, "destinationId", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create secret")
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]any{"secret": toSecretResponse(created), "key": created.Key})
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var opts secret.RotateOptions
	if r.ContentLength > 0 {
		if !httpserver.DecodeAndValidate(w, r, &opts) {
			return
		}
	}

	rotated, err := h.svc.RotateWebhookSecret(r.Context(), id, opts)
	if err != nil {
		h.logger.Error("rotating secret", "error", err, "destinationId", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to rotate secret")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"secret": toSecretResponse(rotated), "key": rotated.Key})
}

func (h *Handler) configureBYOS(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var opts secret.BYOSOptions
	if !httpserver.DecodeAndValidate(w, r, &opts) {
		return
	}

	configured, err := h.svc.ConfigureBYOS(r.Context(), id, opts)
	if err != nil {
		h.logger.Error("configuring BYOS secret", "error", err, "destinationId", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to configure BYOS secret")
		return
	}
	httpserver.Respond(w, http.StatusOK, toSecretResponse(configured))
}

// --- Deliveries (enqueue & status) ---

type enqueueRequest struct {
	DestinationID  uuid.UUID       `json:"destinationId" validate:"required"`
	Type           string          `json:"type" validate:"required"`
	Data           json.RawMessage `json:"data" validate:"required"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Priority       int             `json:"priority,omitempty"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	identity := httpserver.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req enqueueRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.svc.Enqueue(r.Context(), identity.OrganizationID, req.DestinationID, EnqueuePayload{
		Type:           req.Type,
		Data:           req.Data,
		Metadata:       req.Metadata,
		CorrelationID:  req.CorrelationID,
		IdempotencyKey: req.IdempotencyKey,
		Priority:       req.Priority,
	})
	if err != nil {
		h.respondServiceError(w, "enqueuing delivery", err)
		return
	}

	status := http.StatusAccepted
	if !result.Created {
		status = http.StatusOK
	}
	httpserver.Respond(w, status, map[string]any{
		"deliveryId":  result.DeliveryID,
		"queueItemId": result.QueueItemID,
		"created":     result.Created,
	})
}

func (h *Handler) getDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	item, logRow, err := h.svc.GetDeliveryStatus(r.Context(), id)
	if err != nil {
		h.logger.Error("getting delivery status", "error", err, "deliveryId", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get delivery status")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"queueItem": item, "log": logRow})
}

// --- Health / queue introspection ---

func (h *Handler) listUnhealthy(w http.ResponseWriter, r *http.Request) {
	unhealthy, err := h.svc.ListUnhealthy(r.Context())
	if err != nil {
		h.logger.Error("listing unhealthy destinations", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list unhealthy destinations")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"destinations": unhealthy, "count": len(unhealthy)})
}

func (h *Handler) healthSummary(w http.ResponseWriter, r *http.Request) {
	threshold := 1
	if v := r.URL.Query().Get("threshold"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			threshold = n
		}
	}

	result, err := h.svc.HealthCheck(r.Context(), threshold)
	if err != nil {
		h.logger.Error("computing health summary", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to compute health summary")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) queueDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := h.svc.QueueDepth(r.Context())
	if err != nil {
		h.logger.Error("getting queue depth", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get queue depth")
		return
	}
	httpserver.Respond(w, http.StatusOK, depth)
}

// --- helpers ---

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrDestinationNotFound):
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "destination not found")
	case errors.Is(err, ErrDestinationDisabled):
		httpserver.RespondError(w, http.StatusConflict, "conflict", "destination is disabled")
	case errors.Is(err, ErrInvalidConfig):
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "invalid_config", err.Error())
	case errors.Is(err, ErrCircuitOpen):
		httpserver.RespondError(w, http.StatusServiceUnavailable, "circuit_open", "destination circuit breaker is open")
	case errors.Is(err, ErrRateLimited):
		httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	default:
		h.logger.Error(action, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", action+" failed")
	}
}
