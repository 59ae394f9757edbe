package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskboard/pkg/boards"
	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

// BoardHandlers serves the Kanban boards of one project
type BoardHandlers struct {
	boards *boards.Service
}

func NewBoardHandlers(svc *boards.Service) *BoardHandlers {
	return &BoardHandlers{boards: svc}
}

// RegisterRoutes registers board routes below /boards/{projectId}
func (h *BoardHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.create).Methods(http.MethodPost)
	router.HandleFunc("", h.list).Methods(http.MethodGet)
	router.HandleFunc("/{boardId}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/{boardId}", h.delete).Methods(http.MethodDelete)
}

func (h *BoardHandlers) create(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	if v.Required("name", req.Name) {
		v.OneOf("name", req.Name, storage.BoardNames()...)
	}
	v.Length("description", req.Description, 0, 500)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	b, err := h.boards.Create(r.Context(), principal(r), pid, boards.Input{Name: req.Name, Description: req.Description})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Board created successfully", b)
}

func (h *BoardHandlers) list(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	out, err := h.boards.List(r.Context(), principal(r), pid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Boards fetched successfully", out)
}

func (h *BoardHandlers) get(w http.ResponseWriter, r *http.Request) {
	ids, ok := httputil.ParsePathIDs(w, r, "projectId", "boardId")
	if !ok {
		return
	}
	b, err := h.boards.Get(r.Context(), principal(r), ids[0], ids[1])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Board fetched successfully", b)
}

func (h *BoardHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ids, ok := httputil.ParsePathIDs(w, r, "projectId", "boardId")
	if !ok {
		return
	}
	if err := h.boards.Delete(r.Context(), principal(r), ids[0], ids[1]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Board deleted successfully", nil)
}
