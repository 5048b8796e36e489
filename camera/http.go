package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/nasa-jpl/beamprof/generichttp"
	"github.com/nasa-jpl/beamprof/util"
)

// Remote is a camera behind the HTTP interface in generichttp/camera
type Remote struct {
	// URL is the root of the camera's routes, e.g. http://host:8000/camera
	URL string

	Client *http.Client
}

// NewRemote returns a client to the camera served at url
func NewRemote(url string) *Remote {
	return &Remote{URL: strings.TrimSuffix(url, "/"), Client: &http.Client{Timeout: 30 * time.Second}}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	return fmt.Errorf("camera: %s %s: %s", resp.Request.URL.Path, resp.Status, strings.TrimSpace(buf.String()))
}

// SetExposureTime sets the exposure time
func (r *Remote) SetExposureTime(d time.Duration) error {
	body, err := json.Marshal(generichttp.FloatT{F64: d.Seconds()})
	if err != nil {
		return err
	}
	resp, err := r.Client.Post(r.URL+"/exposure-time", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// GetExposureTime gets the exposure time
func (r *Remote) GetExposureTime() (time.Duration, error) {
	resp, err := r.Client.Get(r.URL + "/exposure-time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err = checkStatus(resp); err != nil {
		return 0, err
	}
	f := generichttp.FloatT{}
	err = json.NewDecoder(resp.Body).Decode(&f)
	return util.SecsToDuration(f.F64), err
}

// Capture fetches one frame as PNG
func (r *Remote) Capture(ctx context.Context) (*image.Gray, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL+"/image?fmt=png", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err = checkStatus(resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}
