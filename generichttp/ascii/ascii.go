// Package ascii contains some injectable HTTP interfaces to ASCII hardware
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/nasa-jpl/beamprof/generichttp"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper is a wrapper around a raw communicator
type RawWrapper struct {
	Comm RawCommunicator
}

// HTTPRaw sends the string in the body verbatim and replies with the first
// line the device sends back
func (rw RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := rw.Comm.Raw(str.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm injects a POST /raw route into the route table of an HTTPer
func InjectRawComm(other generichttp.HTTPer, raw RawCommunicator) {
	wrap := RawWrapper{Comm: raw}
	other.RT()[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = wrap.HTTPRaw
}
