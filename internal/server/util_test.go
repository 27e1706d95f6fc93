package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeBase(t *testing.T) {
	for in, want := range map[string]string{
		"":          "",
		"/":         "",
		"api":       "/api",
		"/api/":     "/api",
		" /api ":    "/api",
		"/api//v1/": "/api/v1",
	} {
		assert.Equal(t, want, normalizeBase(in), "input %q", in)
	}
}

func TestValidProcessID(t *testing.T) {
	for _, id := range []string{"sim-server", "sim.client_2", "A", strings.Repeat("x", 128)} {
		assert.True(t, validProcessID(id), id)
	}
	for _, id := range []string{"", ".hidden", "-x", "a..b", "a/b", `a\b`, "sim server", "proc*", "시뮬", strings.Repeat("x", 129)} {
		assert.False(t, validProcessID(id), id)
	}
}

func TestProcessIDRejectsWith400(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.GET("/p/:id", func(c *gin.Context) {
		id, ok := processID(c)
		if !ok {
			return
		}
		writeJSON(c, http.StatusOK, map[string]string{"id": id})
	})

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p/sim-server", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"id":"sim-server"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p/bad*id", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid process id")
}
