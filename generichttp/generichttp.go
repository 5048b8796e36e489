// Package generichttp wraps devices in an HTTP interface.  Device specific
// subpackages fill a RouteTable, which is then bound to a chi router.
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sort"

	"github.com/go-chi/chi"
)

// MethodPath is an HTTP method and a chi path pattern
type MethodPath struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// RouteTable maps method-path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes in the table, sorted by path then method
func (rt RouteTable) Endpoints() []MethodPath {
	out := make([]MethodPath, 0, len(rt))
	for k := range rt {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Method < out[j].Method
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Bind binds every route in the table to r, plus GET /endpoints listing them
func (rt RouteTable) Bind(r chi.Router) {
	for mp, fn := range rt {
		r.MethodFunc(mp.Method, mp.Path, fn)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(rt.Endpoints())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// HTTPer is a type which holds a route table
type HTTPer interface {
	RT() RouteTable
}

// FloatT is a struct with a single float64 field F64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field Int
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field Str
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field Bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct containing the basic types a device may return
// over HTTP.  T selects the field which is encoded.
type HumanPayload struct {
	Bool   bool
	Float  float64
	Int    int
	String string
	T      types.BasicKind
}

// EncodeAndRespond writes the payload as JSON with one key, f64, int, str,
// or bool, depending on T
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, "unsupported payload type", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.F64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(s.Str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
