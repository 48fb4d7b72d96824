package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAccessChecker_GrantsOn200(t *testing.T) {
	var gotDocHeader, gotSessionHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDocHeader = r.Header.Get("X-Document-ID")
		gotSessionHeader = r.Header.Get("X-Session-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewHTTPAccessChecker(srv.URL)
	err := checker.CheckAccess(context.Background(), "doc-1", "user-a")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", gotDocHeader)
	assert.Equal(t, "user-a", gotSessionHeader)
}

func TestHTTPAccessChecker_DeniesOn403And404(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		checker := NewHTTPAccessChecker(srv.URL)
		err := checker.CheckAccess(context.Background(), "doc-1", "user-a")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAuthorization))
		srv.Close()
	}
}

func TestHTTPAccessChecker_PropagatesUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := NewHTTPAccessChecker(srv.URL)
	err := checker.CheckAccess(context.Background(), "doc-1", "user-a")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAuthorization))
}
