package camera

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/nasa-jpl/beamprof/camera"
)

func serve(t *testing.T, c camera.Capturer) *httptest.Server {
	t.Helper()
	h := NewHTTPCamera(c, nil)
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteRoundTrip(t *testing.T) {
	spot := camera.NewSpot(40, 30, 5)
	srv := serve(t, spot)
	remote := camera.NewRemote(srv.URL)

	if err := remote.SetExposureTime(19 * time.Microsecond); err != nil {
		t.Fatal(err)
	}
	d, err := remote.GetExposureTime()
	if err != nil {
		t.Fatal(err)
	}
	if d != 19*time.Microsecond {
		t.Errorf("expected 19us got %v", d)
	}

	img, err := remote.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	local := camera.NewSpot(40, 30, 5)
	local.SetExposureTime(19 * time.Microsecond)
	expected, _ := local.Capture(context.Background())
	if img.Bounds() != expected.Bounds() {
		t.Fatalf("expected bounds %v got %v", expected.Bounds(), img.Bounds())
	}
	for i := range expected.Pix {
		if img.Pix[i] != expected.Pix[i] {
			t.Fatalf("pixel %d: expected %d got %d", i, expected.Pix[i], img.Pix[i])
		}
	}
}

func TestCaptureErrorSurfaces(t *testing.T) {
	spot := camera.NewSpot(8, 8, 2)
	spot.FailAfter = 1
	srv := serve(t, spot)
	remote := camera.NewRemote(srv.URL)
	if _, err := remote.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := remote.Capture(context.Background()); err == nil {
		t.Error("expected the second capture to fail")
	}
}

func TestExposureSecondsRounded(t *testing.T) {
	spot := camera.NewSpot(8, 8, 2)
	srv := serve(t, spot)
	// 1.001 * 1e9 is 1000999999.99... in floating point
	resp, err := http.Post(srv.URL+"/exposure-time", "application/json", strings.NewReader(`{"f64": 1.001}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	d, _ := spot.GetExposureTime()
	if d != 1001*time.Millisecond {
		t.Errorf("expected 1.001s got %v", d)
	}
	d, err = camera.NewRemote(srv.URL).GetExposureTime()
	if err != nil {
		t.Fatal(err)
	}
	if d != 1001*time.Millisecond {
		t.Errorf("expected the remote to read 1.001s got %v", d)
	}
}

func TestExposureQueryParameter(t *testing.T) {
	spot := camera.NewSpot(8, 8, 2)
	srv := serve(t, spot)
	resp, err := http.Post(srv.URL+"/exposure-time?exposureTime=250us", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if d, _ := spot.GetExposureTime(); d != 250*time.Microsecond {
		t.Errorf("expected 250us got %v", d)
	}
	resp, err = http.Get(srv.URL + "/image?fmt=png&exposureTime=0.001")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if d, _ := spot.GetExposureTime(); d != time.Millisecond {
		t.Errorf("expected 1ms got %v", d)
	}
	resp, err = http.Get(srv.URL + "/image?fmt=bmp")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown format got %d", resp.StatusCode)
	}
}

func TestFitsAndBurst(t *testing.T) {
	srv := serve(t, camera.NewSpot(8, 8, 2))
	resp, err := http.Get(srv.URL + "/image?fmt=fits")
	if err != nil {
		t.Fatal(err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/fits" {
		t.Errorf("expected image/fits got %s", ct)
	}
	f, err := fitsio.Open(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	hdr := f.HDU(0).Header()
	for _, key := range []string{"WAIST", "EXPTIME"} {
		if hdr.Get(key) == nil {
			t.Errorf("expected %s in the header", key)
		}
	}
	f.Close()
	resp.Body.Close()
	resp, err = http.Post(srv.URL+"/burst", "application/json", strings.NewReader(`{"frames": 3}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 got %d", resp.StatusCode)
	}
	resp, err = http.Post(srv.URL+"/burst", "application/json", strings.NewReader(`{"frames": 0}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 got %d", resp.StatusCode)
	}
}

func TestSpotRoute(t *testing.T) {
	spot := camera.NewSpot(120, 100, 10)
	spot.SetExposureTime(3619 * time.Microsecond)
	srv := serve(t, spot)
	resp, err := http.Get(srv.URL + "/spot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	rep := SpotReport{}
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Region.Width() <= 0 || rep.Metrics.Peak != 255 {
		t.Errorf("expected a saturated spot in a non-empty region got %+v", rep)
	}
	cx := float64(rep.Region.Cols[0]) + rep.Metrics.CentroidX
	if cx < 58 || cx > 62 {
		t.Errorf("expected centroid near column 60 got %v", cx)
	}
}
