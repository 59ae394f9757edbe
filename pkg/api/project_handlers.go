package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/projects"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

// ProjectHandlers serves projects and their memberships
type ProjectHandlers struct {
	projects *projects.Service
}

func NewProjectHandlers(svc *projects.Service) *ProjectHandlers {
	return &ProjectHandlers{projects: svc}
}

// RegisterRoutes registers project routes
func (h *ProjectHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.create).Methods(http.MethodPost)
	router.HandleFunc("", h.list).Methods(http.MethodGet)
	router.HandleFunc("/{projectId}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/{projectId}", h.update).Methods(http.MethodPatch)
	router.HandleFunc("/{projectId}", h.delete).Methods(http.MethodDelete)
	router.HandleFunc("/{projectId}/status", h.status).Methods(http.MethodGet)

	router.HandleFunc("/{projectId}/members", h.members).Methods(http.MethodGet)
	router.HandleFunc("/{projectId}/members", h.addMember).Methods(http.MethodPost)
	router.HandleFunc("/{projectId}/members", h.setMemberRoles).Methods(http.MethodPatch)
	router.HandleFunc("/{projectId}/members/{userId}/role", h.updateMemberRole).Methods(http.MethodPatch)
	router.HandleFunc("/{projectId}/members/{userId}", h.removeMember).Methods(http.MethodDelete)
}

type projectRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Status      *string   `json:"status"`
	Priority    *string   `json:"priority"`
	Visibility  *string   `json:"visibility"`
	Tags        *[]string `json:"tags"`
	StartDate   *string   `json:"startDate"`
	DueDate     *string   `json:"dueDate"`
}

func (req *projectRequest) patch(v *httputil.Validator) projects.Patch {
	patch := projects.Patch{
		Name:        req.Name,
		Description: req.Description,
		Priority:    checkPriority(v, req.Priority),
		Tags:        req.Tags,
		StartDate:   v.Date("startDate", req.StartDate),
		DueDate:     v.Date("dueDate", req.DueDate),
	}
	if req.Name != nil {
		v.Length("name", strings.TrimSpace(*req.Name), 1, 100)
	}
	if req.Description != nil {
		v.Length("description", *req.Description, 0, 1000)
	}
	if req.Status != nil {
		v.OneOf("status", *req.Status, string(storage.ProjectActive), string(storage.ProjectInactive), string(storage.ProjectArchived))
		s := storage.ProjectStatus(*req.Status)
		patch.Status = &s
	}
	if req.Visibility != nil {
		v.OneOf("visibility", *req.Visibility, string(storage.ProjectPublic), string(storage.ProjectPrivate), string(storage.ProjectTeam))
		vis := storage.ProjectVisibility(*req.Visibility)
		patch.Visibility = &vis
	}
	return patch
}

// create handles POST /projects
func (h *ProjectHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	if req.Name == nil {
		v.Add("name", "is required")
	}
	patch := req.patch(v)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	in := projects.Input{
		Name:      *req.Name,
		StartDate: patch.StartDate,
		DueDate:   patch.DueDate,
	}
	if patch.Description != nil {
		in.Description = *patch.Description
	}
	if patch.Status != nil {
		in.Status = *patch.Status
	}
	if patch.Priority != nil {
		in.Priority = *patch.Priority
	}
	if patch.Visibility != nil {
		in.Visibility = *patch.Visibility
	}
	if patch.Tags != nil {
		in.Tags = *patch.Tags
	}

	proj, err := h.projects.Create(r.Context(), principal(r), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Project created successfully", proj)
}

// list handles GET /projects
func (h *ProjectHandlers) list(w http.ResponseWriter, r *http.Request) {
	out, err := h.projects.List(r.Context(), principal(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Projects fetched successfully", out)
}

// get handles GET /projects/{projectId}
func (h *ProjectHandlers) get(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	proj, err := h.projects.Get(r.Context(), principal(r), pid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Project fetched successfully", proj)
}

// update handles PATCH /projects/{projectId}
func (h *ProjectHandlers) update(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	var req projectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	patch := req.patch(v)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	proj, err := h.projects.Update(r.Context(), principal(r), pid, patch)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Project updated successfully", proj)
}

// delete handles DELETE /projects/{projectId}
func (h *ProjectHandlers) delete(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	if err := h.projects.Delete(r.Context(), principal(r), pid); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Project deleted successfully", nil)
}

// status handles GET /projects/{projectId}/status
func (h *ProjectHandlers) status(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	report, err := h.projects.Status(r.Context(), principal(r), pid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Project status fetched successfully", report)
}

// members handles GET /projects/{projectId}/members
func (h *ProjectHandlers) members(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	out, err := h.projects.Members(r.Context(), principal(r), pid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Project members fetched successfully", out)
}

// addMember handles POST /projects/{projectId}/members
func (h *ProjectHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	v := httputil.NewValidator()
	if v.Required("email", email) {
		v.Email("email", email)
	}
	var role rbac.ProjectRole
	if req.Role != "" {
		role = checkRole(v, "role", req.Role)
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	m, err := h.projects.AddMember(r.Context(), principal(r), pid, email, role)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Member added successfully", m)
}

// setMemberRoles handles PATCH /projects/{projectId}/members
func (h *ProjectHandlers) setMemberRoles(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	var req struct {
		Members []struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		} `json:"members"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	v.Check(len(req.Members) > 0, "members", "must not be empty")
	roles := make(map[string]rbac.ProjectRole, len(req.Members))
	for _, m := range req.Members {
		checkIDs(v, "members", []string{m.UserID})
		roles[m.UserID] = checkRole(v, "members", m.Role)
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	out, err := h.projects.SetMemberRoles(r.Context(), principal(r), pid, roles)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Member roles updated successfully", out)
}

// updateMemberRole handles PATCH /projects/{projectId}/members/{userId}/role
func (h *ProjectHandlers) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	ids, ok := httputil.ParsePathIDs(w, r, "projectId", "userId")
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	role := checkRole(v, "role", req.Role)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	m, err := h.projects.UpdateMemberRole(r.Context(), principal(r), ids[0], ids[1], role)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Member role updated successfully", m)
}

// removeMember handles DELETE /projects/{projectId}/members/{userId}
func (h *ProjectHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	ids, ok := httputil.ParsePathIDs(w, r, "projectId", "userId")
	if !ok {
		return
	}
	if err := h.projects.RemoveMember(r.Context(), principal(r), ids[0], ids[1]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Member removed successfully", nil)
}
