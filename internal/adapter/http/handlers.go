package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncforge/chatbridge/internal/adapter/ws"
	"github.com/syncforge/chatbridge/internal/domain/event"
	"github.com/syncforge/chatbridge/internal/domain/message"
	"github.com/syncforge/chatbridge/internal/domain/task"
	"github.com/syncforge/chatbridge/internal/port/database"
	"github.com/syncforge/chatbridge/internal/port/messagequeue"
	"github.com/syncforge/chatbridge/internal/service"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Mapper   *service.MapperService
	Notifier *service.NotifierService
	Ingest   *service.IngestService
	Audit    *service.AuditService
	Members  *service.MemberService
	Store    database.Store
	Pool     *pgxpool.Pool
	Queue    messagequeue.Queue
	Hub      *ws.Hub
}

// --- Webhook ingress ---

// HandleChatWebhook handles POST /api/v1/webhooks/chat. Recording the
// event is the acknowledgement: both a fresh insert and a duplicate
// return 202 so the provider stops redelivering.
func (h *Handlers) HandleChatWebhook(w http.ResponseWriter, r *http.Request) {
	env, ok := readJSON[service.Envelope](w, r, maxBodyBytes)
	if !ok {
		return
	}

	inserted, err := h.Ingest.Ingest(r.Context(), env.EventID, env.Payload)
	if err != nil {
		writeDomainError(w, err, "event not ingested")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"event_id":  env.EventID,
		"duplicate": !inserted,
	})
}

// --- Space links ---

type linkRequest struct {
	SpaceID   string `json:"space_id"`
	CompanyID int64  `json:"company_id"`
}

// LinkProject handles POST /api/v1/projects/{id}/link
func (h *Handlers) LinkProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[linkRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if req.SpaceID == "" {
		writeError(w, http.StatusBadRequest, "space_id is required")
		return
	}

	m, err := h.Mapper.Link(r.Context(), projectID, req.SpaceID, req.CompanyID)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// UnlinkProject handles DELETE /api/v1/projects/{id}/link
func (h *Handlers) UnlinkProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.Mapper.Unlink(r.Context(), projectID); err != nil {
		writeDomainError(w, err, "project is not linked")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetProjectLink handles GET /api/v1/projects/{id}/link
func (h *Handlers) GetProjectLink(w http.ResponseWriter, r *http.Request) {
	projectID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	m, err := h.Mapper.ResolveSpace(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err, "project is not linked")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- Task operations ---

type notifyRequest struct {
	Changes task.Changes `json:"changes"`
}

// NotifyTaskChanged handles POST /api/v1/tasks/{id}/notify
func (h *Handlers) NotifyTaskChanged(w http.ResponseWriter, r *http.Request) {
	taskID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[notifyRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if len(req.Changes) == 0 {
		writeError(w, http.StatusBadRequest, "changes is required")
		return
	}

	m, err := h.Notifier.NotifyTaskChanged(r.Context(), taskID, req.Changes)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	if m == nil {
		// Nothing tracked changed, or the project is not linked.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

// ResyncTask handles POST /api/v1/tasks/{id}/resync
func (h *Handlers) ResyncTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	m, err := h.Notifier.ResyncTask(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

// ListTaskComments handles GET /api/v1/tasks/{id}/comments
func (h *Handlers) ListTaskComments(w http.ResponseWriter, r *http.Request) {
	taskID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	comments, err := h.Store.ListTaskComments(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// --- Event ledger ---

// ListEvents handles GET /api/v1/events?status=&limit=
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	status := event.Status(r.URL.Query().Get("status"))
	events, err := h.Audit.ListEvents(r.Context(), status, limitParam(r, 50, 500))
	if err != nil {
		writeDomainError(w, err, "events not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /api/v1/events/{id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	ev, err := h.Audit.GetEvent(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ReprocessEvent handles POST /api/v1/events/{id}/reprocess
func (h *Handlers) ReprocessEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.Audit.ReprocessEvent(r.Context(), id); err != nil {
		writeDomainError(w, err, "event not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// --- Outbound messages ---

// ListOutbound handles GET /api/v1/outbound?status=&limit=
func (h *Handlers) ListOutbound(w http.ResponseWriter, r *http.Request) {
	status := message.Status(r.URL.Query().Get("status"))
	messages, err := h.Audit.ListOutbound(r.Context(), status, limitParam(r, 50, 500))
	if err != nil {
		writeDomainError(w, err, "messages not found")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// GetOutbound handles GET /api/v1/outbound/{id}
func (h *Handlers) GetOutbound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.Audit.GetOutbound(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RetryOutbound handles POST /api/v1/outbound/{id}/retry
func (h *Handlers) RetryOutbound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Audit.RetryOutbound(r.Context(), id); err != nil {
		writeDomainError(w, err, "message not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// --- Space members ---

// ListSpaceMembers handles GET /api/v1/spaces/{spaceID}/members
func (h *Handlers) ListSpaceMembers(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceID")
	members, err := h.Members.List(r.Context(), spaceID)
	if err != nil {
		writeDomainError(w, err, "space not found")
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// SyncSpaceMembers handles POST /api/v1/spaces/{spaceID}/members/sync
func (h *Handlers) SyncSpaceMembers(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceID")
	members, err := h.Members.SyncSpace(r.Context(), spaceID)
	if err != nil {
		writeDomainError(w, err, "space not found")
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// --- Health ---

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	dbOK := h.Pool.Ping(ctx) == nil
	natsOK := h.Queue.IsConnected()
	if !dbOK || !natsOK {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"database":   boolStatus(dbOK),
		"nats":       boolStatus(natsOK),
		"ws_clients": h.Hub.ConnectionCount(),
	})
}

func boolStatus(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}
