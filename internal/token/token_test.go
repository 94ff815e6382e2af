package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	assert.Equal(t, "abc", Static("  abc\n").Token())
	assert.Empty(t, Static("").Token())
}

func TestRemote_Refresh(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"token":"fetched","email":"dev@example.com"}`))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, Static("fallback"))
	assert.Equal(t, "fallback", r.Token())

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "fetched", r.Token())
}

func TestRemote_RefreshFailureKeepsFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "status", status: http.StatusForbidden, body: `{}`, wantErr: "403"},
		{name: "bad json", status: http.StatusOK, body: `<html>`, wantErr: "unmarshal"},
		{name: "no token", status: http.StatusOK, body: `{"token":""}`, wantErr: "no token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			r := NewRemote(srv.URL, Static("fallback"))
			err := r.Refresh(context.Background())

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, "fallback", r.Token())
		})
	}
}

func TestRemote_NoFallback(t *testing.T) {
	r := NewRemote("http://127.0.0.1:0", nil)
	assert.Empty(t, r.Token())
}
