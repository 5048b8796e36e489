package generichttp

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
)

func TestHumanPayloadKeys(t *testing.T) {
	cases := []struct {
		hp       HumanPayload
		expected string
	}{
		{HumanPayload{T: types.Float64, Float: 1.5}, `{"f64":1.5}`},
		{HumanPayload{T: types.Int, Int: 3}, `{"int":3}`},
		{HumanPayload{T: types.String, String: "x"}, `{"str":"x"}`},
		{HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.hp.EncodeAndRespond(w, httptest.NewRequest(http.MethodGet, "/", nil))
		got := strings.TrimSpace(w.Body.String())
		if got != c.expected {
			t.Errorf("expected %s got %s", c.expected, got)
		}
	}
}

func TestRouteTableBind(t *testing.T) {
	var stored float64
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/value"}:  GetFloat(func() (float64, error) { return stored, nil }),
		{Method: http.MethodPost, Path: "/value"}: SetFloat(func(f float64) error { stored = f; return nil }),
		{Method: http.MethodGet, Path: "/broken"}: GetBool(func() (bool, error) { return false, errors.New("boom") }),
	}
	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/value", strings.NewReader(`{"f64": 2.25}`)))
	if w.Code != http.StatusOK || stored != 2.25 {
		t.Errorf("expected 200 and 2.25 got %d and %v", w.Code, stored)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/value", nil))
	f := FloatT{}
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil || f.F64 != 2.25 {
		t.Errorf("expected 2.25 got %v (%v)", f.F64, err)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/broken", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/value", strings.NewReader(`not json`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	var eps []MethodPath
	if err := json.NewDecoder(w.Body).Decode(&eps); err != nil {
		t.Fatal(err)
	}
	expected := []MethodPath{
		{Method: http.MethodGet, Path: "/broken"},
		{Method: http.MethodGet, Path: "/value"},
		{Method: http.MethodPost, Path: "/value"},
	}
	if diff := cmp.Diff(expected, eps); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}
