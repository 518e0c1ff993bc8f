package roles

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/channeladmin/channeladmin/internal/platform/httpx"
)

// Handler exposes the role catalog over HTTP.
type Handler struct {
	catalog *Catalog
}

// NewHandler builds Handler instance.
func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.catalog.Roles()})
}
