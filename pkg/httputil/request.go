package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/contextkeys"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validation("Request body is required")
		}
		return apperrors.Validation(fmt.Sprintf("Invalid JSON: %v", err))
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteError(w, r, err)
		return false
	}
	return true
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperrors.Validation("Missing path parameter",
			apperrors.FieldError{Field: key, Message: "is required"})
	}
	return str, nil
}

// ParsePathID extracts a path parameter that must be a UUID
func ParsePathID(r *http.Request, key string) (string, error) {
	str, err := ParsePathString(r, key)
	if err != nil {
		return "", err
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return "", apperrors.Validation("Invalid identifier",
			apperrors.FieldError{Field: key, Message: "must be a valid id"})
	}
	return id.String(), nil
}

// ParsePathIDs extracts several UUID path parameters, writing the error response on failure
func ParsePathIDs(w http.ResponseWriter, r *http.Request, keys ...string) ([]string, bool) {
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id, err := ParsePathID(r, key)
		if err != nil {
			WriteError(w, r, err)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, apperrors.Validation("Invalid query parameter",
			apperrors.FieldError{Field: key, Message: "must be an integer"})
	}
	return val, nil
}

// ParseQueryString extracts a trimmed string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryBool extracts an optional boolean query parameter
func ParseQueryBool(r *http.Request, key string) (*bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil, apperrors.Validation("Invalid query parameter",
			apperrors.FieldError{Field: key, Message: "must be true or false"})
	}
	return &val, nil
}

// Pagination holds page/limit query parameters
type Pagination struct {
	Page  int
	Limit int
}

// Offset returns the row offset for the page
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ParsePagination reads page and limit with defaults 1 and DefaultPageLimit
func ParsePagination(r *http.Request) (Pagination, error) {
	page, err := ParseQueryInt(r, "page", 1)
	if err != nil {
		return Pagination{}, err
	}
	limit, err := ParseQueryInt(r, "limit", DefaultPageLimit)
	if err != nil {
		return Pagination{}, err
	}

	v := NewValidator()
	v.Check(page >= 1, "page", "must be at least 1")
	v.Check(limit >= 1 && limit <= MaxPageLimit, "limit", fmt.Sprintf("must be between 1 and %d", MaxPageLimit))
	if err := v.Err(); err != nil {
		return Pagination{}, err
	}

	return Pagination{Page: page, Limit: limit}, nil
}

// ClientIP returns the caller address. It is the socket peer unless
// RealIPMiddleware resolved a forwarded address from a trusted proxy.
func ClientIP(r *http.Request) string {
	if ip := contextkeys.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return remoteIP(r)
}

func remoteIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
