package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/notifications"
)

// NotificationHandlers serves the caller's notifications
type NotificationHandlers struct {
	notifications *notifications.Service
}

func NewNotificationHandlers(svc *notifications.Service) *NotificationHandlers {
	return &NotificationHandlers{notifications: svc}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.list).Methods(http.MethodGet)
	router.HandleFunc("", h.create).Methods(http.MethodPost)
	router.HandleFunc("/{notificationId}/read", h.markRead).Methods(http.MethodPatch)
	router.HandleFunc("/{notificationId}", h.delete).Methods(http.MethodDelete)
}

func (h *NotificationHandlers) list(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	unread, err := httputil.ParseQueryBool(r, "unread")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	out, total, err := h.notifications.List(r.Context(), principal(r), unread != nil && *unread, storagePage(page))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Notifications fetched successfully", listResult(out, page, total))
}

func (h *NotificationHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"userId"`
		Type    string `json:"type"`
		Message string `json:"message"`
		Link    string `json:"link"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	if v.Required("userId", req.UserID) {
		checkIDs(v, "userId", []string{req.UserID})
	}
	if v.Required("message", req.Message) {
		v.Length("message", req.Message, 1, 500)
	}
	in := notifications.CreateInput{UserID: req.UserID, Message: req.Message, Link: req.Link}
	if req.Type != "" {
		typ, ok := notifications.ParseType(req.Type)
		v.Check(ok, "type", "must be task_assigned, task_completed, comment_added, project_invite or general")
		in.Type = typ
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	n, err := h.notifications.Create(r.Context(), principal(r), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Notification sent successfully", n)
}

func (h *NotificationHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	ids, ok := httputil.ParsePathIDs(w, r, "notificationId")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), principal(r), ids[0]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Notification marked as read", nil)
}

func (h *NotificationHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ids, ok := httputil.ParsePathIDs(w, r, "notificationId")
	if !ok {
		return
	}
	if err := h.notifications.Delete(r.Context(), principal(r), ids[0]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Notification deleted successfully", nil)
}
