package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/nasa-jpl/beamprof/export"
	"github.com/nasa-jpl/beamprof/generichttp/ascii"
	gcamera "github.com/nasa-jpl/beamprof/generichttp/camera"
	gmotion "github.com/nasa-jpl/beamprof/generichttp/motion"
	"github.com/nasa-jpl/beamprof/imgrec"
	"github.com/nasa-jpl/beamprof/improc"
	"github.com/nasa-jpl/beamprof/scan"
	"github.com/nasa-jpl/beamprof/server"
	"github.com/nasa-jpl/beamprof/server/middleware/locker"
	"github.com/nasa-jpl/beamprof/util"
)

// scanService runs scans on request.  The stage and camera routes are held
// while a scan is in progress; an operator's lock is left as it was.
type scanService struct {
	c    Config
	rig  *rig
	lock *locker.Locker
	l    *log.Logger

	// progress, if not nil, is called after every slice
	progress func(string)
}

func (s *scanService) run(w http.ResponseWriter, r *http.Request) {
	if !s.lock.Hold() {
		http.Error(w, "a scan is already running", http.StatusConflict)
		return
	}
	defer s.lock.Release()

	v, err := newScanner(s.c, s.rig, s.l, s.progress).Scan(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, scan.ErrNotHomed) || errors.Is(err, improc.ErrNoSpotDetected) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	files, err := writeArtifacts(s.c, v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for i := range files {
		files[i] = filepath.Base(files[i])
	}
	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(files); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// buildRouter exposes the stage (and raw ASCII access to its chain) under
// /stage, the camera under /camera, the artifacts of the last scan under
// /artifacts, and POST /scan.  progress is passed to each scan.
func buildRouter(c Config, r *rig, l *log.Logger, progress func(string)) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	lock := locker.New()

	ctrl := stageController(r)
	stage := gmotion.NewHTTPMotionController(ctrl)
	lim := &gmotion.LimitMiddleware{Limits: map[string]util.Limiter{}, Mov: ctrl}
	if c.Stage.Limits != (util.Limiter{}) {
		lim.Limits["z"] = c.Stage.Limits
	}
	lim.Inject(stage)
	locker.Inject(stage, lock)
	ascii.InjectRawComm(stage, r.conn)
	root.Route("/stage", func(rt chi.Router) {
		rt.Use(lock.Check)
		rt.Use(lim.Check)
		stage.RT().Bind(rt)
	})

	rec := &imgrec.Recorder{Root: filepath.Join(c.Output.Dir, "frames"), Prefix: "frame", Enabled: false}
	cam := gcamera.NewHTTPCamera(r.Camera, rec)
	root.Route("/camera", func(rt chi.Router) {
		rt.Use(lock.Check)
		cam.RT().Bind(rt)
	})

	svc := &scanService{c: c, rig: r, lock: lock, l: l, progress: progress}
	art := server.Artifacts{Dir: c.Output.Dir, Names: artifactNames()}
	art.RT().Bind(root)
	root.Post("/scan", svc.run)
	root.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/artifacts/"+export.DefaultHTMLName, http.StatusFound)
	})
	return root
}
