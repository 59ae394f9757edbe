package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/tasks"
)

// TaskHandlers serves the tasks of one project
type TaskHandlers struct {
	tasks *tasks.Service
}

func NewTaskHandlers(svc *tasks.Service) *TaskHandlers {
	return &TaskHandlers{tasks: svc}
}

// RegisterRoutes registers task routes below /tasks/{projectId}
func (h *TaskHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.create).Methods(http.MethodPost)
	router.HandleFunc("", h.list).Methods(http.MethodGet)
	router.HandleFunc("/{taskId}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/{taskId}", h.update).Methods(http.MethodPatch)
	router.HandleFunc("/{taskId}", h.delete).Methods(http.MethodDelete)
	router.HandleFunc("/{taskId}/assign", h.assign).Methods(http.MethodPatch)
	router.HandleFunc("/{taskId}/status", h.changeStatus).Methods(http.MethodPatch)
}

type taskRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Status      *string   `json:"status"`
	Priority    *string   `json:"priority"`
	AssignedTo  *[]string `json:"assignedTo"`
	DueDate     *string   `json:"dueDate"`
}

func (req *taskRequest) patch(v *httputil.Validator) tasks.Patch {
	if req.Title != nil {
		v.Length("title", strings.TrimSpace(*req.Title), 1, 200)
	}
	if req.Description != nil {
		v.Length("description", *req.Description, 0, 2000)
	}
	if req.AssignedTo != nil {
		checkIDs(v, "assignedTo", *req.AssignedTo)
	}
	return tasks.Patch{
		Title:       req.Title,
		Description: req.Description,
		Priority:    checkPriority(v, req.Priority),
		DueDate:     v.Date("dueDate", req.DueDate),
		Status:      checkTaskStatus(v, "status", req.Status),
		AssignedTo:  req.AssignedTo,
	}
}

// create handles POST /tasks/{projectId}
func (h *TaskHandlers) create(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	var req taskRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	if req.Title == nil {
		v.Add("title", "is required")
	}
	patch := req.patch(v)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	in := tasks.Input{Title: *req.Title, DueDate: patch.DueDate}
	if patch.Description != nil {
		in.Description = *patch.Description
	}
	if patch.Status != nil {
		in.Status = *patch.Status
	}
	if patch.Priority != nil {
		in.Priority = *patch.Priority
	}
	if patch.AssignedTo != nil {
		in.AssignedTo = *patch.AssignedTo
	}

	t, err := h.tasks.Create(r.Context(), principal(r), pid, in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Task created successfully", t)
}

// list handles GET /tasks/{projectId}
func (h *TaskHandlers) list(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	f, page, err := parseTaskFilter(r, pid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	out, total, err := h.tasks.List(r.Context(), principal(r), f)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Tasks fetched successfully", listResult(out, page, total))
}

func parseTaskFilter(r *http.Request, pid string) (storage.TaskFilter, httputil.Pagination, error) {
	page, err := httputil.ParsePagination(r)
	if err != nil {
		return storage.TaskFilter{}, page, err
	}
	sort, err := parseSort(r, storage.TaskSortFields(), storage.SortOrder{Field: storage.SortCreatedAt, Desc: true})
	if err != nil {
		return storage.TaskFilter{}, page, err
	}
	needsReview, err := httputil.ParseQueryBool(r, "needsReview")
	if err != nil {
		return storage.TaskFilter{}, page, err
	}

	f := storage.TaskFilter{
		ProjectID:   pid,
		AssignedTo:  httputil.ParseQueryString(r, "assignedTo", ""),
		CreatedBy:   httputil.ParseQueryString(r, "createdBy", ""),
		NeedsReview: needsReview,
		Query:       httputil.ParseQueryString(r, "q", ""),
		Sort:        sort,
		Page:        storagePage(page),
	}

	v := httputil.NewValidator()
	if s := httputil.ParseQueryString(r, "status", ""); s != "" {
		f.Status = *checkTaskStatus(v, "status", &s)
	}
	if p := httputil.ParseQueryString(r, "priority", ""); p != "" {
		f.Priority = *checkPriority(v, &p)
	}
	if f.AssignedTo != "" {
		checkIDs(v, "assignedTo", []string{f.AssignedTo})
	}
	if f.CreatedBy != "" {
		checkIDs(v, "createdBy", []string{f.CreatedBy})
	}
	return f, page, v.Err()
}

func taskIDs(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ids, ok := httputil.ParsePathIDs(w, r, "projectId", "taskId")
	if !ok {
		return "", "", false
	}
	return ids[0], ids[1], true
}

// get handles GET /tasks/{projectId}/{taskId}
func (h *TaskHandlers) get(w http.ResponseWriter, r *http.Request) {
	pid, tid, ok := taskIDs(w, r)
	if !ok {
		return
	}
	t, err := h.tasks.Get(r.Context(), principal(r), pid, tid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Task fetched successfully", t)
}

// update handles PATCH /tasks/{projectId}/{taskId}
func (h *TaskHandlers) update(w http.ResponseWriter, r *http.Request) {
	pid, tid, ok := taskIDs(w, r)
	if !ok {
		return
	}
	var req taskRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	patch := req.patch(v)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	t, err := h.tasks.Update(r.Context(), principal(r), pid, tid, patch)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Task updated successfully", t)
}

// assign handles PATCH /tasks/{projectId}/{taskId}/assign
func (h *TaskHandlers) assign(w http.ResponseWriter, r *http.Request) {
	pid, tid, ok := taskIDs(w, r)
	if !ok {
		return
	}
	var req struct {
		AssignedTo []string `json:"assignedTo"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	checkIDs(v, "assignedTo", req.AssignedTo)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	t, err := h.tasks.Assign(r.Context(), principal(r), pid, tid, req.AssignedTo)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Task assigned successfully", t)
}

// changeStatus handles PATCH /tasks/{projectId}/{taskId}/status
func (h *TaskHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	pid, tid, ok := taskIDs(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	status := checkTaskStatus(v, "status", &req.Status)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	t, err := h.tasks.ChangeStatus(r.Context(), principal(r), pid, tid, *status)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Task status updated successfully", t)
}

// delete handles DELETE /tasks/{projectId}/{taskId}
func (h *TaskHandlers) delete(w http.ResponseWriter, r *http.Request) {
	pid, tid, ok := taskIDs(w, r)
	if !ok {
		return
	}
	if err := h.tasks.Delete(r.Context(), principal(r), pid, tid); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Task deleted successfully", nil)
}

// SubtaskHandlers serves the subtasks of one project
type SubtaskHandlers struct {
	tasks *tasks.Service
}

func NewSubtaskHandlers(svc *tasks.Service) *SubtaskHandlers {
	return &SubtaskHandlers{tasks: svc}
}

// RegisterRoutes registers subtask routes below /subtasks/{projectId}
func (h *SubtaskHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tasks/{taskId}", h.create).Methods(http.MethodPost)
	router.HandleFunc("/tasks/{taskId}", h.listForTask).Methods(http.MethodGet)
	router.HandleFunc("", h.list).Methods(http.MethodGet)
	router.HandleFunc("/{subtaskId}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/{subtaskId}", h.update).Methods(http.MethodPatch)
	router.HandleFunc("/{subtaskId}", h.delete).Methods(http.MethodDelete)
}

type subtaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"dueDate"`
	IsCompleted *bool   `json:"isCompleted"`
	AssignedTo  *string `json:"assignedTo"`
}

func (req *subtaskRequest) patch(v *httputil.Validator) tasks.SubtaskPatch {
	if req.Title != nil {
		v.Length("title", strings.TrimSpace(*req.Title), 1, 200)
	}
	if req.Description != nil {
		v.Length("description", *req.Description, 0, 1000)
	}
	if req.AssignedTo != nil && *req.AssignedTo != "" {
		checkIDs(v, "assignedTo", []string{*req.AssignedTo})
	}
	return tasks.SubtaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Priority:    checkPriority(v, req.Priority),
		DueDate:     v.Date("dueDate", req.DueDate),
		IsCompleted: req.IsCompleted,
		AssignedTo:  req.AssignedTo,
	}
}

// create handles POST /subtasks/{projectId}/tasks/{taskId}
func (h *SubtaskHandlers) create(w http.ResponseWriter, r *http.Request) {
	pid, tid, ok := taskIDs(w, r)
	if !ok {
		return
	}
	var req subtaskRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	if req.Title == nil {
		v.Add("title", "is required")
	}
	patch := req.patch(v)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	in := tasks.SubtaskInput{Title: *req.Title, DueDate: patch.DueDate}
	if patch.Description != nil {
		in.Description = *patch.Description
	}
	if patch.Priority != nil {
		in.Priority = *patch.Priority
	}
	if patch.AssignedTo != nil {
		in.AssignedTo = *patch.AssignedTo
	}

	st, err := h.tasks.CreateSubtask(r.Context(), principal(r), pid, tid, in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Subtask created successfully", st)
}

func (h *SubtaskHandlers) serveList(w http.ResponseWriter, r *http.Request, pid, taskID string) {
	page, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	completed, err := httputil.ParseQueryBool(r, "isCompleted")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	f := storage.SubtaskFilter{
		ProjectID:   pid,
		TaskID:      taskID,
		IsCompleted: completed,
		AssignedTo:  httputil.ParseQueryString(r, "assignedTo", ""),
		Page:        storagePage(page),
	}
	v := httputil.NewValidator()
	if f.TaskID != "" {
		checkIDs(v, "taskId", []string{f.TaskID})
	}
	if f.AssignedTo != "" {
		checkIDs(v, "assignedTo", []string{f.AssignedTo})
	}
	if p := httputil.ParseQueryString(r, "priority", ""); p != "" {
		f.Priority = *checkPriority(v, &p)
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	out, total, err := h.tasks.ListSubtasks(r.Context(), principal(r), f)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Subtasks fetched successfully", listResult(out, page, total))
}

// listForTask handles GET /subtasks/{projectId}/tasks/{taskId}
func (h *SubtaskHandlers) listForTask(w http.ResponseWriter, r *http.Request) {
	pid, tid, ok := taskIDs(w, r)
	if !ok {
		return
	}
	h.serveList(w, r, pid, tid)
}

// list handles GET /subtasks/{projectId}
func (h *SubtaskHandlers) list(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectID(w, r)
	if !ok {
		return
	}
	h.serveList(w, r, pid, httputil.ParseQueryString(r, "taskId", ""))
}

func subtaskIDs(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ids, ok := httputil.ParsePathIDs(w, r, "projectId", "subtaskId")
	if !ok {
		return "", "", false
	}
	return ids[0], ids[1], true
}

// get handles GET /subtasks/{projectId}/{subtaskId}
func (h *SubtaskHandlers) get(w http.ResponseWriter, r *http.Request) {
	pid, sid, ok := subtaskIDs(w, r)
	if !ok {
		return
	}
	st, err := h.tasks.GetSubtask(r.Context(), principal(r), pid, sid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Subtask fetched successfully", st)
}

// update handles PATCH /subtasks/{projectId}/{subtaskId}
func (h *SubtaskHandlers) update(w http.ResponseWriter, r *http.Request) {
	pid, sid, ok := subtaskIDs(w, r)
	if !ok {
		return
	}
	var req subtaskRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	patch := req.patch(v)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	st, err := h.tasks.UpdateSubtask(r.Context(), principal(r), pid, sid, patch)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Subtask updated successfully", st)
}

// delete handles DELETE /subtasks/{projectId}/{subtaskId}
func (h *SubtaskHandlers) delete(w http.ResponseWriter, r *http.Request) {
	pid, sid, ok := subtaskIDs(w, r)
	if !ok {
		return
	}
	if err := h.tasks.DeleteSubtask(r.Context(), principal(r), pid, sid); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Subtask deleted successfully", nil)
}
