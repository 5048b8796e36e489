// Package camera provides a generic HTTP interface to a camera
package camera

import (
	"encoding/json"
	"fmt"
	"go/types"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/beamprof/camera"
	"github.com/nasa-jpl/beamprof/generichttp"
	"github.com/nasa-jpl/beamprof/imgrec"
	"github.com/nasa-jpl/beamprof/improc"
	"github.com/nasa-jpl/beamprof/util"
)

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// HTTPCamera wraps a camera with HTTP
type HTTPCamera struct {
	Camera camera.Capturer

	// Recorder, if not nil and enabled, receives a copy of every FITS image served
	Recorder *imgrec.Recorder

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper with the route table pre-configured
func NewHTTPCamera(c camera.Capturer, rec *imgrec.Recorder) HTTPCamera {
	h := HTTPCamera{Camera: c, Recorder: rec, RouteTable: generichttp.RouteTable{}}
	HTTPCapturer(c, h.RouteTable, rec)
	if rec != nil {
		imgrec.Inject(h, rec)
	}
	return h
}

// RT satisfies the HTTPer interface
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// HTTPCapturer injects HTTP methods into a route table for a camera
func HTTPCapturer(c camera.Capturer, table generichttp.RouteTable, rec *imgrec.Recorder) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = GetExposureTime(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = SetExposureTime(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}] = GetFrame(c, rec)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/burst"}] = Burst(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/spot"}] = Spot(c)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(c camera.Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		var d time.Duration
		var err error
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = util.SecsToDuration(f.F64)
		} else {
			d, err = parseExposure(texp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.SetExposureTime(d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time on a GET request, in seconds
func GetExposureTime(c camera.Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := c.GetExposureTime()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: d.Seconds()}
		hp.EncodeAndRespond(w, r)
	}
}

// parseExposure parses a duration; a bare number is seconds
func parseExposure(s string) (time.Duration, error) {
	if util.AllElementsNumbers(s) {
		s = s + "s"
	}
	return time.ParseDuration(s)
}

// GetFrame takes a picture and returns it on a GET request.
//
// the image format may be specified in the fmt query parameter, one of
// png, jpg, or fits; default to png
//
// the exposure time may be specified as a query parameter in any time-looking
// format, such as "25ms" or "10us".  If no unit is given, seconds are assumed.
// If no exposure time is provided, it is not updated and the existing value is used.
func GetFrame(c camera.Capturer, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if texp := q.Get("exposureTime"); texp != "" {
			d, err := parseExposure(texp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err = c.SetExposureTime(d); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		format := q.Get("fmt")
		if format == "" {
			format = "png"
		}
		if format != "png" && format != "jpg" && format != "fits" {
			http.Error(w, fmt.Sprintf("unknown image format %q", format), http.StatusBadRequest)
			return
		}
		img, err := c.Capture(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		switch format {
		case "jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			jpeg.Encode(w, img, nil)
		case "png":
			w.Header().Set("Content-Type", "image/png")
			png.Encode(w, img)
		case "fits":
			var w2 io.Writer = w
			if rec != nil && rec.Active() {
				w2 = io.MultiWriter(w, rec)
				defer rec.Incr()
			}
			cards := []fitsio.Card{}
			if carder, ok := interface{}(c).(MetadataMaker); ok {
				cards = carder.CollectHeaderMetadata()
			}
			if d, err := c.GetExposureTime(); err == nil {
				cards = append(cards, fitsio.Card{Name: "EXPTIME", Value: d.Seconds(), Comment: "exposure time, seconds"})
			}
			hdr := w.Header()
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			err = camera.WriteFits(w2, cards, []*image.Gray{img})
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

// Burst takes a burst of N frames and returns it as a fits image cube.
// The body is {"frames": N}.
func Burst(c camera.Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := struct {
			Frames int `json:"frames"`
		}{}
		err := json.NewDecoder(r.Body).Decode(&t)
		defer r.Body.Close()
		if err != nil || t.Frames < 1 {
			http.Error(w, "body must be {\"frames\": N} with N >= 1", http.StatusBadRequest)
			return
		}
		imgs, err := camera.Burst(r.Context(), c, t.Frames)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		cards := []fitsio.Card{{Name: "FRAMES", Value: t.Frames, Comment: "frames in the burst"}}
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=burst.fits")
		err = camera.WriteFits(w, cards, imgs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// SpotReport is the response of the /spot route
type SpotReport struct {
	Region  improc.CropRegion  `json:"region"`
	Metrics improc.BeamMetrics `json:"metrics"`
}

// Spot takes a picture, locates the beam in it, and returns the crop region
// and beam metrics inside it.  The margin query parameter is added to the
// spot radius.
func Spot(c camera.Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		margin := 0
		if m := r.URL.Query().Get("margin"); m != "" {
			var err error
			margin, err = strconv.Atoi(m)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		img, err := c.Capture(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		region, err := improc.Locate(img, margin)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		crop := img.SubImage(region.Rect(img.Bounds().Min)).(*image.Gray)
		rep := SpotReport{Region: region, Metrics: improc.Metrics(crop)}
		w.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(w).Encode(rep)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
