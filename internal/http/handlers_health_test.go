package httpx_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mediaforge/transcoder/internal/mocks"
)

func TestHealthz(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := newTestRouter(mocks.NewMockJobRepository(ctrl), nil)

	rec := doRequest(router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = doRequest(router, http.MethodHead, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestReadyzWithoutBackingStores(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := newTestRouter(mocks.NewMockJobRepository(ctrl), nil)

	rec := doRequest(router, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}
