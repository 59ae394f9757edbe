package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/notes"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

// NoteHandlers serves project and task notes
type NoteHandlers struct {
	notes *notes.Service
}

func NewNoteHandlers(svc *notes.Service) *NoteHandlers {
	return &NoteHandlers{notes: svc}
}

// RegisterRoutes registers note routes below /notes/{projectId}. The analytics
// route is registered before /{noteId}.
func (h *NoteHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.create).Methods(http.MethodPost)
	router.HandleFunc("", h.list).Methods(http.MethodGet)
	router.HandleFunc("/analytics", h.analytics).Methods(http.MethodGet)
	router.HandleFunc("/{noteId}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/{noteId}", h.update).Methods(http.MethodPatch)
	router.HandleFunc("/{noteId}", h.delete).Methods(http.MethodDelete)
}

func checkVisibility(v *httputil.Validator, value *string) *storage.NoteVisibility {
	if value == nil {
		return nil
	}
	vis, ok := notes.ParseVisibility(*value)
	v.Check(ok, "visibility", "must be public or private")
	return &vis
}

func (h *NoteHandlers) create(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	var req struct {
		Content    string  `json:"content"`
		TaskID     string  `json:"taskId"`
		Visibility *string `json:"visibility"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	if v.Required("content", req.Content) {
		v.Length("content", req.Content, 1, notes.MaxContentLength)
	}
	if req.TaskID != "" {
		checkIDs(v, "taskId", []string{req.TaskID})
	}
	in := notes.Input{Content: req.Content, TaskID: req.TaskID}
	if vis := checkVisibility(v, req.Visibility); vis != nil {
		in.Visibility = *vis
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	n, err := h.notes.Create(r.Context(), principal(r), pid, in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Note created successfully", n)
}

// list narrows to the notes the caller may see; private notes of others are
// omitted rather than refused
func (h *NoteHandlers) list(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	page, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	f := storage.NoteFilter{
		ProjectID: pid,
		TaskID:    httputil.ParseQueryString(r, "taskId", ""),
		Query:     httputil.ParseQueryString(r, "q", ""),
		Page:      storagePage(page),
	}
	v := httputil.NewValidator()
	if f.TaskID != "" {
		checkIDs(v, "taskId", []string{f.TaskID})
	}
	if raw := httputil.ParseQueryString(r, "visibility", ""); raw != "" {
		f.Visibility = *checkVisibility(v, &raw)
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	out, total, err := h.notes.List(r.Context(), principal(r), f)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Notes fetched successfully", listResult(out, page, total))
}

func (h *NoteHandlers) analytics(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	stats, err := h.notes.Analytics(r.Context(), principal(r), pid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Note analytics fetched successfully", stats)
}

func noteIDs(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ids, ok := httputil.ParsePathIDs(w, r, "projectId", "noteId")
	if !ok {
		return "", "", false
	}
	return ids[0], ids[1], true
}

func (h *NoteHandlers) get(w http.ResponseWriter, r *http.Request) {
	pid, nid, ok := noteIDs(w, r)
	if !ok {
		return
	}
	n, err := h.notes.Get(r.Context(), principal(r), pid, nid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Note fetched successfully", n)
}

func (h *NoteHandlers) update(w http.ResponseWriter, r *http.Request) {
	pid, nid, ok := noteIDs(w, r)
	if !ok {
		return
	}
	var req struct {
		Content    *string `json:"content"`
		Visibility *string `json:"visibility"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	if req.Content != nil {
		v.Length("content", *req.Content, 1, notes.MaxContentLength)
	}
	patch := notes.Patch{Content: req.Content, Visibility: checkVisibility(v, req.Visibility)}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	n, err := h.notes.Update(r.Context(), principal(r), pid, nid, patch)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Note updated successfully", n)
}

func (h *NoteHandlers) delete(w http.ResponseWriter, r *http.Request) {
	pid, nid, ok := noteIDs(w, r)
	if !ok {
		return
	}
	if err := h.notes.Delete(r.Context(), principal(r), pid, nid); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Note deleted successfully", nil)
}
