package api

import (
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/middleware"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

// principal returns the authenticated caller. Routes that use it sit behind the
// session middleware.
func principal(r *http.Request) rbac.Principal {
	u, ok := middleware.CurrentUser(r.Context())
	if !ok {
		return rbac.Principal{}
	}
	return u.Principal()
}

// PageInfo describes one page of a listing
type PageInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ListResult is the data of a paginated listing
type ListResult struct {
	Items      interface{} `json:"items"`
	Pagination PageInfo    `json:"pagination"`
}

func listResult(items interface{}, p httputil.Pagination, total int) ListResult {
	return ListResult{
		Items: items,
		Pagination: PageInfo{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(p.Limit))),
		},
	}
}

func storagePage(p httputil.Pagination) storage.Page {
	return storage.Page{Limit: p.Limit, Offset: p.Offset()}
}

func projectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ids, ok := httputil.ParsePathIDs(w, r, "projectId")
	if !ok {
		return "", false
	}
	return ids[0], true
}

func checkPriority(v *httputil.Validator, value *string) *storage.Priority {
	if value == nil {
		return nil
	}
	v.OneOf("priority", *value, string(storage.PriorityLow), string(storage.PriorityMedium), string(storage.PriorityHigh))
	p := storage.Priority(*value)
	return &p
}

func checkTaskStatus(v *httputil.Validator, field string, value *string) *storage.TaskStatus {
	if value == nil {
		return nil
	}
	allowed := make([]string, 0, 3)
	for _, s := range storage.TaskStatuses() {
		allowed = append(allowed, string(s))
	}
	v.OneOf(field, *value, allowed...)
	s := storage.TaskStatus(*value)
	return &s
}

func checkIDs(v *httputil.Validator, field string, ids []string) {
	for _, id := range ids {
		if !isID(id) {
			v.Add(field, fmt.Sprintf("%q is not a valid id", id))
			return
		}
	}
}

func isID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func checkRole(v *httputil.Validator, field, value string) rbac.ProjectRole {
	role, err := rbac.ParseProjectRole(value)
	if err != nil {
		v.Add(field, "must be member or project_admin")
	}
	return role
}

// parseSort reads sortBy=field:asc|desc
func parseSort(r *http.Request, allowed []string, def storage.SortOrder) (storage.SortOrder, error) {
	raw := httputil.ParseQueryString(r, "sortBy", "")
	if raw == "" {
		return def, nil
	}
	field, dir, _ := strings.Cut(raw, ":")
	order := storage.SortOrder{Field: field, Desc: strings.EqualFold(dir, "desc")}

	valid := false
	for _, a := range allowed {
		if a == field {
			valid = true
			break
		}
	}
	if !valid || (dir != "" && !strings.EqualFold(dir, "asc") && !strings.EqualFold(dir, "desc")) {
		return storage.SortOrder{}, apperrors.Validation("Invalid query parameter",
			apperrors.FieldError{Field: "sortBy", Message: fmt.Sprintf("must be one of %s with optional :asc or :desc", strings.Join(allowed, ", "))})
	}
	return order, nil
}
