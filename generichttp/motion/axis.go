package motion

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/beamprof/generichttp"
)

// Mover describes an interface with position-related methods for axes.
// Positions are in whatever unit the controller was configured with.
type Mover interface {
	GetPos(axis string) (float64, error)
	MoveAbs(axis string, pos float64) error
	MoveRel(axis string, dist float64) error
	Home(axis string) error
}

// Stopper can abort motion of an axis
type Stopper interface {
	Stop(axis string) error
}

// Speeder has velocity setpoints per axis
type Speeder interface {
	SetVelocity(axis string, v float64) error
	GetVelocity(axis string) (float64, error)
}

// Referencer is a type which can query whether an axis has been homed
type Referencer interface {
	IsHomed(axis string) (bool, error)
}

func route(method, path string) generichttp.MethodPath {
	return generichttp.MethodPath{Method: method, Path: "/axis/{axis}/" + path}
}

// HTTPMove adds home and position routes to the table
func HTTPMove(m Mover, table generichttp.RouteTable) {
	table[route(http.MethodPost, "home")] = act(m.Home)
	table[route(http.MethodGet, "pos")] = getFloat(m.GetPos)
	table[route(http.MethodPost, "pos")] = setPos(m)
}

// HTTPStop adds the stop route to the table
func HTTPStop(s Stopper, table generichttp.RouteTable) {
	table[route(http.MethodPost, "stop")] = act(s.Stop)
}

// HTTPSpeed adds velocity routes to the table
func HTTPSpeed(s Speeder, table generichttp.RouteTable) {
	table[route(http.MethodGet, "velocity")] = getFloat(s.GetVelocity)
	table[route(http.MethodPost, "velocity")] = setFloat(s.SetVelocity)
}

// HTTPHomed adds the homed route to the table
func HTTPHomed(ref Referencer, table generichttp.RouteTable) {
	table[route(http.MethodGet, "homed")] = func(w http.ResponseWriter, r *http.Request) {
		homed, err := ref.IsHomed(chi.URLParam(r, "axis"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Bool, Bool: homed}
		hp.EncodeAndRespond(w, r)
	}
}

// act calls fn on the axis named in the URL
func act(fn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(chi.URLParam(r, "axis")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func getFloat(fn func(string) (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fn(chi.URLParam(r, "axis"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

func decodeFloat(r *http.Request) (float64, error) {
	defer r.Body.Close()
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	return f.F64, err
}

func setFloat(fn func(string, float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := decodeFloat(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = fn(chi.URLParam(r, "axis"), f); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// parseRelative reads the relative query parameter, false if absent
func parseRelative(r *http.Request) (bool, error) {
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		return false, nil
	}
	return strconv.ParseBool(relative)
}

// setPos moves absolute, or relative with ?relative=true
func setPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel, err := parseRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		move := m.MoveAbs
		if rel {
			move = m.MoveRel
		}
		setFloat(move)(w, r)
	}
}
