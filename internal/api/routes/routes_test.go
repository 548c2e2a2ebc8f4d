package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Wikid82/rampart/internal/defense"
)

func newEngine(t *testing.T) *defense.Engine {
	t.Helper()
	engine, err := defense.New(defense.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func TestRegister(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	db, err := gorm.Open(sqlite.Open("file:routes_register?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Register(router, newEngine(t), db))

	registered := map[string]bool{}
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /api/v1/health",
		"GET /api/v1/security/stats",
		"GET /api/v1/security/events",
		"GET /api/v1/security/ips/:ip",
		"POST /api/v1/security/ips/:ip/block",
		"DELETE /api/v1/security/ips/:ip/block",
		"GET /api/v1/security/archive/events",
		"GET /api/v1/security/audits",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/security/audits", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegister_WithoutDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	require.NoError(t, Register(router, newEngine(t), nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/security/archive/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/security/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
