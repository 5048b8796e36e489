// Package imgrec saves frames and scan slices to disk as they are taken, in
// yyyy-mm-dd subfolders of a root.
package imgrec

import (
	"fmt"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/beamprof/generichttp"
)

// Recorder writes numbered FITS files (through Write and Incr) and PNG slices
// named for their stage position (RecordSlice).  Set Root, Prefix, and Enabled
// before use; afterwards change them through the setters, which are safe for
// concurrent use.
type Recorder struct {
	mu sync.Mutex

	Root   string
	Prefix string

	// Enabled is not consulted by the recorder; consumers check it before writing
	Enabled bool

	counter int
}

func today() string {
	return time.Now().Format("2006-01-02")
}

// dir makes and returns today's folder
func (r *Recorder) dir() (string, error) {
	fldr := filepath.Join(r.Root, today())
	return fldr, os.MkdirAll(fldr, 0o777)
}

// Write implements io.Writer by appending to the current numbered FITS file
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr, err := r.dir()
	if err != nil {
		return 0, err
	}
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter))
	f, err := os.OpenFile(fn, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Write(p)
}

// Incr moves on to the next numbered file, one past the highest number in
// today's folder.  It does nothing if the folder cannot be read.
func (r *Recorder) Incr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr, _ := r.dir()
	entries, err := os.ReadDir(fldr)
	if err != nil {
		return
	}
	highest := -1
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, r.Prefix) || !strings.HasSuffix(name, ".fits") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, r.Prefix), ".fits"))
		if err == nil && n > highest {
			highest = n
		}
	}
	r.counter = highest + 1
}

// SlicePath is the file RecordSlice writes for a stage position
func (r *Recorder) SlicePath(pos float64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slicePath(pos)
}

func (r *Recorder) slicePath(pos float64) string {
	name := r.Prefix + strconv.FormatFloat(pos, 'f', 3, 64) + ".png"
	return filepath.Join(r.Root, today(), name)
}

// RecordSlice writes img as a PNG named for the stage position it was taken at
func (r *Recorder) RecordSlice(pos float64, img image.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.dir(); err != nil {
		return err
	}
	f, err := os.Create(r.slicePath(pos))
	if err != nil {
		return err
	}
	err = png.Encode(f, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Active is true if the recorder is enabled and has somewhere to write
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled && r.Root != ""
}

// SetRoot changes the root folder, creating it
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Root = root
	_, err := r.dir()
	return err
}

// SetPrefix changes the file prefix and restarts the numbering
func (r *Recorder) SetPrefix(prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Prefix = prefix
	r.counter = 0
	return nil
}

// SetEnabled turns recording on or off
func (r *Recorder) SetEnabled(b bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Enabled = b
	return nil
}

// Settings returns the root, prefix, and enabled flag
func (r *Recorder) Settings() (root, prefix string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Root, r.Prefix, r.Enabled
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix, and
// /autowrite/enabled to the HTTPer, manipulating rec
func Inject(other generichttp.HTTPer, rec *Recorder) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(func() (string, error) {
		root, _, _ := rec.Settings()
		return root, nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(rec.SetRoot)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(func() (string, error) {
		_, prefix, _ := rec.Settings()
		return prefix, nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(rec.SetPrefix)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = generichttp.GetBool(func() (bool, error) {
		_, _, enabled := rec.Settings()
		return enabled, nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(rec.SetEnabled)
}
