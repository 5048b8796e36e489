package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/nasa-jpl/beamprof/export"
	"github.com/nasa-jpl/beamprof/imgrec"
	"github.com/nasa-jpl/beamprof/improc"
	"github.com/nasa-jpl/beamprof/motion"
	"github.com/nasa-jpl/beamprof/scan"
	"github.com/nasa-jpl/beamprof/volume"
)

// artifact file names, beside export.DefaultHTMLName
const (
	fitsName    = "profile.fits"
	mipName     = "profile_mip.png"
	causticName = "caustic.csv"
)

func artifactNames() []string {
	return []string{export.DefaultHTMLName, fitsName, mipName, causticName}
}

// slicePitch is the physical size of a pixel of a reduced slice
func slicePitch(c Config) float64 {
	return c.Output.PixelSizeUm / c.Scan.Scale
}

// renderGrid is the pitch and axis unit of the 3D rendering
func renderGrid(c Config) (float64, string) {
	if c.Output.SensorGrid {
		return c.Output.PixelSizeUm, fmt.Sprintf("um at %g um/px, slices reduced by %g", c.Output.PixelSizeUm, c.Scan.Scale)
	}
	return slicePitch(c), "um"
}

// newScanner returns a controller on r which logs the located spot and each
// slice to l, and records slices if configured.  progress, if not nil, gets a
// one line status after every slice.
func newScanner(c Config, r *rig, l *log.Logger, progress func(string)) *scan.Controller {
	ctrl := scan.NewController(r.Stage, r.Camera, c.Scan)
	ctrl.Locator.Observer = func(frame *image.Gray, region improc.CropRegion) {
		l.Printf("spot located in a %dx%d frame: rows %v cols %v",
			frame.Bounds().Dx(), frame.Bounds().Dy(), region.Rows, region.Cols)
	}
	var rec *imgrec.Recorder
	if c.Output.RecordSlices {
		rec = &imgrec.Recorder{Root: filepath.Join(c.Output.Dir, c.Output.SliceDir), Prefix: "z_", Enabled: true}
	}
	n := len(c.Scan.Positions())
	pitch := slicePitch(c)
	ctrl.OnSlice = func(s scan.Slice) {
		m := improc.Metrics(s.Sample)
		l.Printf("slice %d/%d at %.3f %s: peak %d, D4sigma %.1f x %.1f um",
			s.Index+1, n, s.Position, c.Scan.Unit, m.Peak, m.D4SigmaX*pitch, m.D4SigmaY*pitch)
		if progress != nil {
			progress(fmt.Sprintf("slice %d/%d at %.3f %s", s.Index+1, n, s.Position, c.Scan.Unit))
		}
		if rec != nil {
			if err := rec.RecordSlice(s.Position, s.Sample); err != nil {
				l.Println("recording slice:", err)
			}
		}
	}
	return ctrl
}

// prepare applies the stage settings ahead of a scan
func prepare(ctx context.Context, c Config, r *rig) error {
	if c.Stage.VelocityUm > 0 {
		if err := r.Stage.SetVelocity(ctx, c.Stage.VelocityUm, motion.Micrometer); err != nil {
			return err
		}
	}
	if !c.Stage.HomeFirst {
		return nil
	}
	homed, err := r.Stage.IsHomed(ctx)
	if err != nil || homed {
		return err
	}
	return r.Stage.Home(ctx)
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = fn(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// writeArtifacts exports v to the output folder and returns the files written
func writeArtifacts(c Config, v *volume.Volume) ([]string, error) {
	o := c.Output
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, err
	}
	pitch := slicePitch(c)
	gridPitch, unit := renderGrid(c)
	req := export.Export(v, gridPitch)
	req.Title = o.Title
	req.XYUnit = unit
	html := filepath.Join(o.Dir, export.DefaultHTMLName)
	if err := export.WriteHTML(html, export.ECharts{Width: "1000px", Height: "800px"}, req); err != nil {
		return nil, err
	}
	written := []string{html}
	var errs []error
	add := func(name string, fn func(io.Writer) error) {
		path := filepath.Join(o.Dir, name)
		if err := writeFile(path, fn); err != nil {
			errs = append(errs, err)
			return
		}
		written = append(written, path)
	}
	if o.Fits {
		add(fitsName, func(w io.Writer) error { return export.WriteFits(w, v, pitch) })
	}
	if o.MIP {
		add(mipName, func(w io.Writer) error { return export.WriteMIP(w, v, pitch, "png") })
	}
	if o.Caustic {
		add(causticName, func(w io.Writer) error {
			return export.WriteCausticCSV(w, export.Caustic(v), pitch)
		})
	}
	return written, errors.Join(errs...)
}

// runScan opens the rig, scans, and exports
func runScan(ctx context.Context, c Config, l *log.Logger, progress func(string)) ([]string, error) {
	r, err := openRig(c)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err = prepare(ctx, c, r); err != nil {
		return nil, err
	}
	v, err := newScanner(c, r, l, progress).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return writeArtifacts(c, v)
}
