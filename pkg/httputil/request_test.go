package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
)

func TestParseJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"board"}`))
		var p payload
		require.NoError(t, ParseJSON(r, &p))
		assert.Equal(t, "board", p.Name)
	})

	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var p payload
		err := ParseJSON(r, &p)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})

	t.Run("unknown field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","role":"admin"}`))
		var p payload
		err := ParseJSON(r, &p)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})
}

func TestParsePathID(t *testing.T) {
	const id = "7d0f3c36-3f1e-4a55-9a53-3b0fb0e0e0a1"

	r := httptest.NewRequest(http.MethodGet, "/projects/"+id, nil)
	r = mux.SetURLVars(r, map[string]string{"projectId": id})
	got, err := ParsePathID(r, "projectId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	r = mux.SetURLVars(r, map[string]string{"projectId": "not-a-uuid"})
	_, err = ParsePathID(r, "projectId")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	r = mux.SetURLVars(r, map[string]string{})
	_, err = ParsePathID(r, "projectId")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantPage  int
		wantLimit int
		wantErr   bool
	}{
		{"defaults", "", 1, DefaultPageLimit, false},
		{"explicit", "?page=3&limit=50", 3, 50, false},
		{"zero page", "?page=0", 0, 0, true},
		{"limit too large", "?limit=1000", 0, 0, true},
		{"not a number", "?page=abc", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/tasks"+tt.query, nil)
			p, err := ParsePagination(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantLimit, p.Limit)
		})
	}

	assert.Equal(t, 40, Pagination{Page: 3, Limit: 20}.Offset())
}

func TestParseQueryBool(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?unread=true", nil)
	got, err := ParseQueryBool(r, "unread")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, *got)

	got, err = ParseQueryBool(r, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:5123"
	assert.Equal(t, "10.0.0.5", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "10.0.0.5", ClientIP(r), "forwarded header ignored without a trusted proxy")

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", ClientIP(r))
}
