// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/beamprof/generichttp"
)

// ReplyWithFile replies to the client request by serving the given file name
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath, err := filepath.Abs(filepath.Join(fldr, fn))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	// read some stuff to set the headers appropriately
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// Artifacts serves the files a scan leaves in Dir.  Only the listed Names are
// reachable; nothing else in the folder is exposed.
type Artifacts struct {
	Dir   string
	Names []string
}

// Present lists the names which exist on disk
func (a Artifacts) Present() []string {
	out := []string{}
	for _, n := range a.Names {
		if _, err := os.Stat(filepath.Join(a.Dir, n)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func (a Artifacts) list(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(a.Present())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a Artifacts) serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, n := range a.Names {
		if n == name {
			ReplyWithFile(w, r, name, a.Dir)
			return
		}
	}
	http.Error(w, fmt.Sprintf("%s is not a scan artifact", name), http.StatusNotFound)
}

// RT satisfies generichttp.HTTPer
func (a Artifacts) RT() generichttp.RouteTable {
	return generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/artifacts"}:        a.list,
		{Method: http.MethodGet, Path: "/artifacts/{name}"}: a.serve,
	}
}
