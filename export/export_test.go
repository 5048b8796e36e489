package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/beamprof/volume"
)

func testVolume(t *testing.T, rows, cols, n int) *volume.Volume {
	t.Helper()
	v := &volume.Volume{}
	for k := 0; k < n; k++ {
		img := image.NewGray(image.Rect(0, 0, cols, rows))
		for i := range img.Pix {
			img.Pix[i] = uint8((i*37 + k*101) % 256)
		}
		if err := v.Append(float64(50000-500*k), img); err != nil {
			t.Fatal(err)
		}
	}
	return v
}

func TestExport(t *testing.T) {
	v := testVolume(t, 4, 4, 3)
	req := Export(v, 2.74)
	if len(req.X) != 48 || len(req.Y) != 48 || len(req.Z) != 48 || len(req.Value) != 48 {
		t.Fatalf("expected 48 voxels got %d %d %d %d", len(req.X), len(req.Y), len(req.Z), len(req.Value))
	}
	if req.IsoMin != 25 || req.IsoMax != 255 || req.Opacity != 0.2 || req.SurfaceCount != 25 {
		t.Errorf("unexpected transfer settings %+v", req)
	}
	if math.Abs(req.X[47]-10.96) > 1e-9 || math.Abs(req.Y[47]-10.96) > 1e-9 || req.Z[47] != 1 {
		t.Errorf("expected last voxel at (10.96, 10.96, 1) got (%v, %v, %v)", req.X[47], req.Y[47], req.Z[47])
	}
	// row 1 col 2 slice 1
	idx := (1*4+2)*3 + 1
	if req.Value[idx] != float64(v.At(1, 2, 1)) {
		t.Errorf("expected value %d at %d got %v", v.At(1, 2, 1), idx, req.Value[idx])
	}
}

func TestTransfer(t *testing.T) {
	req := Request{OpacityScale: DefaultOpacityScale, Opacity: 0.2}
	cases := []struct{ in, out float64 }{
		{-5, 0}, {0, 0}, {50, 0}, {100, 0}, {150, 0.25}, {200, 0.5}, {227.5, 0.75}, {255, 1}, {300, 1},
	}
	for _, c := range cases {
		if got := req.Transfer(c.in); math.Abs(got-c.out) > 1e-12 {
			t.Errorf("transfer(%v): expected %v got %v", c.in, c.out, got)
		}
	}
	if got := req.Alpha(255); math.Abs(got-0.2) > 1e-12 {
		t.Errorf("expected alpha 0.2 at 255 got %v", got)
	}
	if got := (Request{}).Transfer(12); got != 1 {
		t.Errorf("expected an empty scale to be opaque got %v", got)
	}
}

func TestLevel(t *testing.T) {
	req := Request{IsoMin: 25, IsoMax: 255, SurfaceCount: 25}
	if _, ok := req.Level(24); ok {
		t.Error("expected no level below the iso range")
	}
	if l, ok := req.Level(25); !ok || l != 0 {
		t.Errorf("expected level 0 got %d %v", l, ok)
	}
	if l, ok := req.Level(255); !ok || l != 24 {
		t.Errorf("expected level 24 got %d %v", l, ok)
	}
	if l, _ := req.Level(140); l != 12 {
		t.Errorf("expected level 12 got %d", l)
	}
}

type recordingRenderer struct {
	got Request
}

func (r *recordingRenderer) Render(w io.Writer, req Request) error {
	r.got = req
	_, err := io.WriteString(w, "<html></html>")
	return err
}

type failingRenderer struct{}

func (failingRenderer) Render(w io.Writer, req Request) error {
	return errors.New("no")
}

func TestWriteHTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultHTMLName)
	rr := &recordingRenderer{}
	req := Export(testVolume(t, 2, 2, 2), 1)
	if err := WriteHTML(path, rr, req); err != nil {
		t.Fatal(err)
	}
	if len(rr.got.Value) != 8 {
		t.Errorf("expected the renderer to receive 8 voxels got %d", len(rr.got.Value))
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "<html></html>" {
		t.Errorf("expected rendered file, got %q (%v)", b, err)
	}
	if err := WriteHTML(path, failingRenderer{}, req); err == nil {
		t.Error("expected renderer error to surface")
	}
}

func TestEChartsRender(t *testing.T) {
	req := Export(testVolume(t, 6, 5, 4), 2.74)
	req.Title = "caustic under test"
	req.XYUnit = "um"
	buf := new(bytes.Buffer)
	if err := (ECharts{}).Render(buf, req); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "caustic under test") {
		t.Error("expected the title in the page")
	}
	if !strings.Contains(out, "<html") {
		t.Error("expected an html document")
	}
	if !strings.Contains(out, "X (um)") {
		t.Error("expected the unit in the axis name")
	}
}

func TestWriteFits(t *testing.T) {
	v := testVolume(t, 3, 4, 2)
	buf := new(bytes.Buffer)
	if err := WriteFits(buf, v, 2.74); err != nil {
		t.Fatal(err)
	}
	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	hdr := f.HDU(0).Header()
	if c := hdr.Get("ZSTART"); c == nil || fmt.Sprint(c.Value) != "50000" {
		t.Errorf("expected ZSTART 50000 got %v", c)
	}
	if axes := hdr.Axes(); len(axes) != 3 || axes[2] != 2 {
		t.Errorf("expected a 2 slice cube got %v", axes)
	}
	if err := WriteFits(new(bytes.Buffer), &volume.Volume{}, 1); err == nil {
		t.Error("expected an error for an empty volume")
	}
}

func TestWriteMIP(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteMIP(buf, testVolume(t, 6, 5, 3), 2.74, "png"); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Error("expected a png")
	}
	if err := WriteMIP(new(bytes.Buffer), testVolume(t, 1, 5, 3), 1, "png"); err == nil {
		t.Error("expected an error for a single row")
	}
}

func TestCausticCSV(t *testing.T) {
	v := &volume.Volume{}
	for k := 0; k < 2; k++ {
		img := image.NewGray(image.Rect(0, 0, 5, 5))
		img.Pix[2*5+2] = uint8(100 + k)
		v.Append(float64(10-k), img)
	}
	pts := Caustic(v)
	if len(pts) != 2 || pts[1].Position != 9 || pts[1].Peak != 101 {
		t.Fatalf("unexpected caustic %+v", pts)
	}
	buf := new(bytes.Buffer)
	if err := WriteCausticCSV(buf, pts, 2); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows got %d", len(rows))
	}
	// single bright pixel at (2,2): centroid 2 px, 4 physical; zero width
	expected := []string{"10", "100", "4", "4", "0", "0"}
	for i, e := range expected {
		if rows[1][i] != e {
			t.Errorf("column %d: expected %s got %s", i, e, rows[1][i])
		}
	}
}
