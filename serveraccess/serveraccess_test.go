package serveraccess

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	when := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	tr := &Tracker{now: func() time.Time { return when }}

	w := httptest.NewRecorder()
	tr.NotifyActive(w, httptest.NewRequest(http.MethodPost, "/notify-active", strings.NewReader(`{"user":"ana"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ServerStatus{User: "ana", Busy: true, WhenAuthed: when}, tr.Status())

	w = httptest.NewRecorder()
	tr.CheckActive(w, httptest.NewRequest(http.MethodGet, "/check-active", nil))
	var got ServerStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "ana", got.User)
	assert.True(t, got.Busy)

	w = httptest.NewRecorder()
	tr.NotifyActive(w, httptest.NewRequest(http.MethodPost, "/notify-active", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ana", tr.Status().User, "a bad request leaves the claim alone")

	w = httptest.NewRecorder()
	tr.ReleaseActive(w, httptest.NewRequest(http.MethodPost, "/release-active", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ServerStatus{}, tr.Status())
}
