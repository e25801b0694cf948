package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/project"
	"github.com/Strob0t/ForgeTrack/internal/domain/syncop"
	"github.com/Strob0t/ForgeTrack/internal/domain/webhook"
	"github.com/Strob0t/ForgeTrack/internal/middleware"
	"github.com/Strob0t/ForgeTrack/internal/service"
)

// WebhookProcessor handles an authenticated delivery.
type WebhookProcessor interface {
	Process(ctx context.Context, d *service.WebhookDelivery) webhook.Outcome
}

// SyncRunner starts, polls and cancels repository syncs.
type SyncRunner interface {
	Start(ctx context.Context, connectionID string, req syncop.Request) (*service.StartResult, error)
	Get(ctx context.Context, id string) (*syncop.Snapshot, error)
	Cancel(ctx context.Context, id string) (*syncop.Snapshot, error)
	PollInterval() time.Duration
}

// Directory is the read side of projects and connections.
type Directory interface {
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	ListConnections(ctx context.Context, projectID string) ([]connection.Connection, error)
}

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Webhooks  WebhookProcessor
	Sync      SyncRunner
	Directory Directory
	Health    map[string]HealthCheck
	Version   string
}

// webhookResponse is returned for every authenticated delivery.
type webhookResponse struct {
	Status   webhook.OutcomeKind `json:"status"`
	Reason   string              `json:"reason,omitempty"`
	IssueKey string              `json:"issue_key,omitempty"`
}

// HandleWebhook processes a delivery authenticated by middleware.WebhookAuth.
// The provider gets 200 whatever the outcome, so it does not redeliver
// events that were handled or deliberately ignored.
// POST /api/v1/webhooks/{service}/{connectionID}
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.DeliveryFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated webhook")
		return
	}

	d := &service.WebhookDelivery{
		Connection: auth.Connection,
		Event:      webhook.EventHeader(auth.Service, r.Header),
		DeliveryID: webhook.DeliveryID(auth.Service, r.Header),
		Body:       auth.Body,
		ReceivedAt: time.Now(),
	}
	o := h.Webhooks.Process(r.Context(), d)

	resp := webhookResponse{Status: o.Kind, IssueKey: o.IssueKey}
	if o.Kind != webhook.OutcomeFailed {
		resp.Reason = o.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

type syncCompletedResponse struct {
	Status  string         `json:"status"`
	Results syncop.Results `json:"results"`
}

type syncAcceptedResponse struct {
	OperationID    string `json:"operationId"`
	PollIntervalMs int64  `json:"pollIntervalMs"`
}

// StartSync triggers a sync for a connection. Short syncs answer inline;
// longer ones are promoted to a pollable operation.
// POST /api/v1/connections/{connectionID}/sync
func (h *Handlers) StartSync(w http.ResponseWriter, r *http.Request) {
	connID := urlParam(r, "connectionID")
	if !requireField(w, connID, "connectionID") {
		return
	}
	req, ok := readJSON[syncop.Request](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	res, err := h.Sync.Start(r.Context(), connID, req)
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	if res.Completed {
		writeJSON(w, http.StatusOK, syncCompletedResponse{Status: "completed", Results: res.Results})
		return
	}
	writeJSON(w, http.StatusAccepted, syncAcceptedResponse{
		OperationID:    res.Operation.ID,
		PollIntervalMs: h.Sync.PollInterval().Milliseconds(),
	})
}

// GetSync returns the current snapshot of an operation.
// GET /api/v1/sync/{operationID}
func (h *Handlers) GetSync(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Sync.Get(r.Context(), urlParam(r, "operationID"))
	if err != nil {
		writeDomainError(w, err, "sync operation not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CancelSync cancels an operation. Cancelling a finished operation returns
// its snapshot unchanged.
// DELETE /api/v1/sync/{operationID}
func (h *Handlers) CancelSync(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Sync.Cancel(r.Context(), urlParam(r, "operationID"))
	if err != nil {
		writeDomainError(w, err, "sync operation not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) listProjects() http.HandlerFunc {
	return listAll(h.Directory.ListProjects)
}

func (h *Handlers) getProject() http.HandlerFunc {
	return getBy("projectID", h.Directory.GetProject, "project not found")
}

func (h *Handlers) createProject() http.HandlerFunc {
	return createFrom(h.Directory.CreateProject)
}

func (h *Handlers) listConnections() http.HandlerFunc {
	return listBy("projectID", h.Directory.ListConnections, "project not found")
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HandleHealth runs every check with a short deadline. Any failing check
// turns the response into 503.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.Health))
	for name := range h.Health {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Version: h.Version, Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.Health[name](ctx); err != nil {
			slog.Warn("health check failed", "check", name, "error", err)
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}
