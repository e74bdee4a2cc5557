package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mnemolabs/palace/internal/middleware"
)

// NewRouter builds the control-plane router. Browse and status reads are
// open; every mutating route sits behind the API key middleware.
func NewRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(Logger)
	r.Use(CORS(h.cfg.Server.CORSOrigin))

	auth := middleware.APIKeyAuth(h.cfg.Auth.APIKey, h.cfg.Auth.AllowInsecureLocal)

	r.Get("/", h.GetVersion)

	// Browse tree and search console (unauthenticated reads).
	r.Get("/browse", h.BrowseRoots)
	r.Get("/browse/children", h.BrowseChildren)
	r.Get("/browse/memory", h.ReadMemory)
	r.Post("/browse/search", h.SearchConsole)

	// Index worker (status reads open, job mutations authenticated).
	r.Get("/index/status", h.GetIndexStatus)
	r.Get("/index/jobs/{id}", h.GetIndexJob)
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/index/rebuild", h.RebuildIndex)
		r.Post("/index/reindex", h.ReindexMemory)
		r.Post("/index/sleep", h.TriggerSleep)
		r.Post("/index/jobs/{id}/cancel", h.CancelIndexJob)
		r.Post("/index/jobs/{id}/retry", h.RetryIndexJob)
	})

	// Vitality governance.
	r.Get("/vitality/cleanup/candidates", h.ListCleanupCandidates)
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/vitality/decay", h.TriggerDecay)
		r.Post("/vitality/cleanup/prepare", h.PrepareCleanup)
		r.Post("/vitality/cleanup/confirm", h.ConfirmCleanup)
	})

	// Orphan maintenance.
	r.Get("/maintenance/orphans", h.ListOrphans)
	r.Get("/maintenance/orphans/{id}", h.GetOrphan)
	r.With(auth).Delete("/maintenance/orphans/{id}", h.DeleteOrphan)

	// Session snapshot reviews.
	r.Get("/reviews/{session}", h.ListSessionSnapshots)
	r.Get("/reviews/{session}/diff", h.DiffSnapshot)
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/reviews/{session}/approve", h.ApproveSnapshot)
		r.Post("/reviews/{session}/rollback", h.RollbackSnapshot)
		r.Post("/reviews/{session}/clear", h.ClearSnapshots)
	})

	return r
}
