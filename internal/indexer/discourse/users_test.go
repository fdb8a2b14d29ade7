package discourse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New("error", "console")
}

func TestProcessAvatarURLFollowsOneRedirect(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer cdn.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", cdn.URL+"/resolved_120.png")
		w.WriteHeader(http.StatusFound)
	}))
	defer origin.Close()

	host := model.DAODiscourse{ID: uuid.New(), BaseURL: origin.URL}
	ix := NewUserIndexer(host, newClient(origin.URL, nil), nil, testLogger())

	resolved, err := ix.processAvatarURL(context.Background(), "/avatar/{size}.png")
	require.NoError(t, err)
	assert.Equal(t, cdn.URL+"/resolved_120.png", resolved)
}

func TestProcessAvatarURLNoRedirectReturnsOriginal(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	host := model.DAODiscourse{ID: uuid.New(), BaseURL: origin.URL}
	ix := NewUserIndexer(host, newClient(origin.URL, nil), nil, testLogger())

	resolved, err := ix.processAvatarURL(context.Background(), "/avatar/{size}.png")
	require.NoError(t, err)
	assert.Equal(t, origin.URL+"/avatar/120.png", resolved)
}

func TestProcessAvatarURLAbsoluteTemplateKeepsHost(t *testing.T) {
	host := model.DAODiscourse{ID: uuid.New(), BaseURL: "https://forum.example.org"}
	ix := NewUserIndexer(host, newClient(host.BaseURL, nil), nil, testLogger())

	resolved, err := ix.processAvatarURL(context.Background(), "https://cdn.example.org/avatar/{size}.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.org/avatar/120.png", resolved)
}
