package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/beamprof/generichttp"
	"github.com/nasa-jpl/beamprof/util"
)

var errClamped = errors.New("requested position violates software limits, aborted")

// LimitMiddleware refuses moves which would take an axis outside its software
// limits with 400, before they reach the controller.  Axes without an entry
// in Limits are unrestricted.
type LimitMiddleware struct {
	Limits map[string]util.Limiter

	// Mov is queried for the current position of relative moves
	Mov Mover
}

// target is the absolute destination of a move request, which is left
// readable for the next handler
func (l *LimitMiddleware) target(r *http.Request, axis string) (float64, error) {
	rel, err := parseRelative(r)
	if err != nil {
		return 0, err
	}
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	f := generichttp.FloatT{}
	if err = json.Unmarshal(body, &f); err != nil {
		return 0, err
	}
	if !rel {
		return f.F64, nil
	}
	cur, err := l.Mov.GetPos(axis)
	return cur + f.F64, err
}

// Check is the middleware
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/pos") {
			next.ServeHTTP(w, r)
			return
		}
		// middleware runs before routing; take the axis from .../axis/{axis}/pos
		axis := path.Base(path.Dir(r.URL.Path))
		lim, ok := l.Limits[axis]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		pos, err := l.target(r, axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !lim.Check(pos) {
			http.Error(w, errClamped.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a GET /axis/{axis}/limits route on the table of the HTTPer
func (l *LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[route(http.MethodGet, "limits")] = l.get
}

// get replies with the limits of an axis, or null if it has none
func (l *LimitMiddleware) get(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	if lim, ok := l.Limits[chi.URLParam(r, "axis")]; ok {
		v = lim
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
