package generichttp

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleSubMuxSanitize() {
	fmt.Println(SubMuxSanitize("camera/"))
	fmt.Println(SubMuxSanitize("/"))
	// Output:
	// /camera
	// /
}

func ExampleParseDuration() {
	d, _ := ParseDuration("1.5")
	fmt.Println(d)
	d, _ = ParseDuration("250ms")
	fmt.Println(d)
	// Output:
	// 1.5s
	// 250ms
}

var errGone = errors.New("gone")

func TestStatusOf(t *testing.T) {
	RegisterStatus(errGone, http.StatusGone)
	assert.Equal(t, http.StatusGone, StatusOf(fmt.Errorf("wrapped: %w", errGone)))
	assert.Equal(t, http.StatusBadRequest, StatusOf(BadRequest(errGone)), "an error's own status wins")
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("other")))
	assert.ErrorIs(t, BadRequest(errGone), errGone)
}

func TestRouteTable(t *testing.T) {
	var (
		f   = 1.0
		dur time.Duration
	)
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/f"}:  GetFloat(func() (float64, error) { return f, nil }),
		{Method: http.MethodPost, Path: "/f"}: SetFloat(func(v float64) error { f = v; return nil }),
		{Method: http.MethodPost, Path: "/d"}: SetDuration("d", func(d time.Duration) error { dur = d; return nil }),
		{Method: http.MethodGet, Path: "/s"}:  GetString(func() (string, error) { return "", errGone }),
	}
	assert.Equal(t, []string{"GET /f", "GET /s", "POST /d", "POST /f"}, rt.Endpoints())
	mux := chi.NewRouter()
	rt.Bind(mux)

	do := func(method, target, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(method, target, strings.NewReader(body)))
		return w
	}
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/f", `{"f64":2.5}`).Code)
	w := do(http.MethodGet, "/f", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"f64":2.5}`, w.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/f", `{`).Code)

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/d?d=3", "").Code)
	assert.Equal(t, 3*time.Second, dur)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/d", `{"f64":0.25}`).Code)
	assert.Equal(t, 250*time.Millisecond, dur)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/d?d=later", "").Code)

	RegisterStatus(errGone, http.StatusGone)
	assert.Equal(t, http.StatusGone, do(http.MethodGet, "/s", "").Code)
	w = do(http.MethodGet, "/endpoints", "")
	assert.Contains(t, w.Body.String(), "POST /d")
}
