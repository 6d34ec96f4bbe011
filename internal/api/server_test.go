package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apiv2 "github.com/deskops/itsm-engine/internal/api/v2"
	"github.com/deskops/itsm-engine/internal/conf"
	"github.com/deskops/itsm-engine/internal/ruleset"
)

func TestNewServer_RoutesAndRecover(t *testing.T) {
	t.Parallel()
	store, err := ruleset.NewStore(ruleset.DefaultDocument(), 0)
	require.NoError(t, err)
	s := NewServer(nil, apiv2.Deps{Store: store}, nil)

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/health", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.Echo().GET("/panic", func(echo.Context) error { panic("boom") })
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StartShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	settings := &conf.Settings{}
	settings.WebServer.Listen = "127.0.0.1:0"
	s := NewServer(settings, apiv2.Deps{}, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	require.Eventually(t, func() bool { return s.Echo().ListenerAddr() != nil }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Echo().ListenerAddr().String() + "/api/v2/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	http.DefaultClient.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}
