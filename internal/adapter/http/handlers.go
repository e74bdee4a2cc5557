package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/service"
)

// Handlers bundles the services the control plane exposes.
type Handlers struct {
	store      *sqlite.Store
	resolver   *service.Resolver
	retrieval  *service.Retrieval
	governance *service.Governance
	ledger     *service.Ledger
	worker     *service.IndexWorker
	sleep      *service.Sleep
	cfg        config.Config
}

func NewHandlers(
	store *sqlite.Store,
	resolver *service.Resolver,
	retrieval *service.Retrieval,
	governance *service.Governance,
	ledger *service.Ledger,
	worker *service.IndexWorker,
	sleep *service.Sleep,
	cfg config.Config,
) *Handlers {
	return &Handlers{
		store:      store,
		resolver:   resolver,
		retrieval:  retrieval,
		governance: governance,
		ledger:     ledger,
		worker:     worker,
		sleep:      sleep,
		cfg:        cfg,
	}
}

// GetVersion reports the API version.
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": "1"})
}

// BrowseRoots lists the root paths of every configured domain plus store
// totals. Browse reads are unauthenticated.
func (h *Handlers) BrowseRoots(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	roots := map[string][]string{}
	for _, dom := range h.cfg.Resolver.ValidDomains {
		if dom == "system" {
			continue
		}
		paths, err := h.store.ListDomainRoots(r.Context(), dom)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		addrs := make([]string, 0, len(paths))
		for _, p := range paths {
			addrs = append(addrs, p.Address().String())
		}
		roots[dom] = addrs
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "roots": roots})
}

// BrowseChildren lists the child paths of one address.
func (h *Handlers) BrowseChildren(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("address")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "address_query_required")
		return
	}
	addr, err := h.resolver.Parse(raw)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	children, err := h.store.ListChildren(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": raw, "children": children})
}

// ReadMemory serves the browse console's memory view.
func (h *Handlers) ReadMemory(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("address")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "address_query_required")
		return
	}
	res, err := h.resolver.Read(r.Context(), raw, service.ReadOptions{})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SearchConsole runs a search on behalf of the dashboard.
func (h *Handlers) SearchConsole(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[searchConsoleRequest](w, r)
	if !ok {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query_required")
		return
	}
	sr := service.SearchRequest{
		Query:      req.Query,
		Mode:       req.Mode,
		Domain:     req.Domain,
		PathPrefix: req.PathPrefix,
	}
	if req.MaxResults != nil {
		if *req.MaxResults < 1 || *req.MaxResults > 50 {
			writeError(w, http.StatusBadRequest, "max_results_out_of_range")
			return
		}
		sr.MaxResults = *req.MaxResults
	}
	res, err := h.retrieval.Search(r.Context(), sr)
	if err != nil {
		if writeValidationOr(w, err) {
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type searchConsoleRequest struct {
	Query      string `json:"query"`
	Mode       string `json:"mode,omitempty"`
	MaxResults *int   `json:"max_results,omitempty"`
	Domain     string `json:"domain,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
}

// ListOrphans lists memories no path references.
func (h *Handlers) ListOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.store.ListOrphans(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orphans": orphans, "count": len(orphans)})
}

// GetOrphan returns one orphaned memory with its tags.
func (h *Handlers) GetOrphan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mem, err := h.store.GetMemory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	tags, err := h.store.GetTags(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory": mem, "tags": tags})
}

// DeleteOrphan purges an orphaned memory. Memories that still have live
// paths are refused; delete the paths first.
func (h *Handlers) DeleteOrphan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	paths, err := h.store.PathsForMemory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(paths) > 0 {
		writeError(w, http.StatusConflict, "memory_has_live_paths")
		return
	}
	if _, err := h.store.GetMemory(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.store.PurgeMemory(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "memory_id": id})
}
