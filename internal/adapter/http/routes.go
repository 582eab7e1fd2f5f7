package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncforge/chatbridge/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, webhookTokenHash string) {
	// Webhook ingress (outside the ops surface, bearer-token verified)
	r.With(middleware.WebhookBearer(webhookTokenHash)).
		Post("/api/v1/webhooks/chat", h.HandleChatWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/health", h.Health)

		// Space links
		r.Post("/projects/{id}/link", h.LinkProject)
		r.Get("/projects/{id}/link", h.GetProjectLink)
		r.Delete("/projects/{id}/link", h.UnlinkProject)

		// Task operations
		r.Post("/tasks/{id}/notify", h.NotifyTaskChanged)
		r.Post("/tasks/{id}/resync", h.ResyncTask)
		r.Get("/tasks/{id}/comments", h.ListTaskComments)

		// Inbound event ledger
		r.Get("/events", h.ListEvents)
		r.Get("/events/{id}", h.GetEvent)
		r.Post("/events/{id}/reprocess", h.ReprocessEvent)

		// Outbound messages
		r.Get("/outbound", h.ListOutbound)
		r.Get("/outbound/{id}", h.GetOutbound)
		r.Post("/outbound/{id}/retry", h.RetryOutbound)

		// Space members
		r.Get("/spaces/{spaceID}/members", h.ListSpaceMembers)
		r.Post("/spaces/{spaceID}/members/sync", h.SyncSpaceMembers)

		// Live status stream for the ops UI
		r.Get("/ws", h.Hub.HandleWS)
	})
}
