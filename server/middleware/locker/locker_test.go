package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	l := New()
	h := l.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	code := func(method, path string) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w.Code
	}
	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/fps"))
	l.Lock()
	assert.Equal(t, http.StatusLocked, code(http.MethodPost, "/fps"))
	assert.Equal(t, http.StatusOK, code(http.MethodGet, "/fps"))
	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/cam/lock"))
	l.ProtectReads = true
	assert.Equal(t, http.StatusLocked, code(http.MethodGet, "/fps"))
	l.Unlock()
	assert.Equal(t, http.StatusOK, code(http.MethodGet, "/fps"))
}

func TestHTTPSet(t *testing.T) {
	l := New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool":true}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, l.Locked())

	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`yes`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, l.Locked())
}
