package motion

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/beamprof/generichttp"
	bpmotion "github.com/nasa-jpl/beamprof/motion"
	"github.com/nasa-jpl/beamprof/server/middleware/locker"
	"github.com/nasa-jpl/beamprof/util"
	"github.com/nasa-jpl/beamprof/zaber"
)

func setup(t *testing.T) (http.Handler, *zaber.MockChain, *locker.Locker) {
	t.Helper()
	conn, chain := zaber.NewMockConnection(zaber.NewMockLinearStage(1, 50081, 1000000))
	ax := zaber.NewAxis(conn, 1, 1)
	ax.PollInterval = 1
	ctrl := zaber.NewController(bpmotion.Micrometer, map[string]*zaber.Axis{"z": ax})
	h := NewHTTPMotionController(ctrl)
	lim := &LimitMiddleware{Limits: map[string]util.Limiter{"z": {Min: 0, Max: 20000}}, Mov: ctrl}
	lim.Inject(h)
	lock := locker.New()
	locker.Inject(h, lock)

	r := chi.NewRouter()
	r.Use(lock.Check)
	r.Use(lim.Check)
	h.RT().Bind(r)
	return r, chain, lock
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestMoveAndReadBack(t *testing.T) {
	h, chain, _ := setup(t)
	if w := do(h, http.MethodPost, "/axis/z/home", ""); w.Code != http.StatusOK {
		t.Fatalf("home: expected 200 got %d %s", w.Code, w.Body)
	}
	if w := do(h, http.MethodPost, "/axis/z/pos", `{"f64": 9525}`); w.Code != http.StatusOK {
		t.Fatalf("move: expected 200 got %d %s", w.Code, w.Body)
	}
	if pos := chain.Position(1, 1); pos != 200000 {
		t.Errorf("expected 200000 microsteps got %d", pos)
	}
	w := do(h, http.MethodGet, "/axis/z/pos", "")
	f := generichttp.FloatT{}
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if d := f.F64 - 9525; d > 1e-6 || d < -1e-6 {
		t.Errorf("expected 9525 got %v", f.F64)
	}
	w = do(h, http.MethodGet, "/axis/z/homed", "")
	b := generichttp.BoolT{}
	if err := json.NewDecoder(w.Body).Decode(&b); err != nil || !b.Bool {
		t.Errorf("expected homed, got %v (%v)", b.Bool, err)
	}
}

func TestLimitRefusesMove(t *testing.T) {
	h, chain, _ := setup(t)
	do(h, http.MethodPost, "/axis/z/home", "")
	if w := do(h, http.MethodPost, "/axis/z/pos", `{"f64": 30000}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 got %d", w.Code)
	}
	do(h, http.MethodPost, "/axis/z/pos", `{"f64": 15000}`)
	if w := do(h, http.MethodPost, "/axis/z/pos?relative=true", `{"f64": 10000}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected relative move past the limit to give 400, got %d", w.Code)
	}
	if len(chain.Axis(1, 1).Log) != 2 {
		t.Errorf("expected only home and one move to reach the device, got %v", chain.Axis(1, 1).Log)
	}
	w := do(h, http.MethodGet, "/axis/z/limits", "")
	lim := util.Limiter{}
	if err := json.NewDecoder(w.Body).Decode(&lim); err != nil || lim.Max != 20000 {
		t.Errorf("expected max 20000 got %+v (%v)", lim, err)
	}
}

func TestLockRefusesMove(t *testing.T) {
	h, chain, lock := setup(t)
	if w := do(h, http.MethodPost, "/lock", `{"bool": true}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	if !lock.Locked() {
		t.Fatal("expected locker to be locked")
	}
	if w := do(h, http.MethodPost, "/axis/z/home", ""); w.Code != http.StatusLocked {
		t.Errorf("expected 423 got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/axis/z/pos", ""); w.Code != http.StatusOK {
		t.Errorf("expected reads to pass a lock, got %d", w.Code)
	}
	if len(chain.Axis(1, 1).Log) != 0 {
		t.Errorf("expected no motion while locked, got %v", chain.Axis(1, 1).Log)
	}
	do(h, http.MethodPost, "/lock", `{"bool": false}`)
	if w := do(h, http.MethodPost, "/axis/z/home", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 after unlock got %d", w.Code)
	}
}

func TestUnknownAxis(t *testing.T) {
	h, _, _ := setup(t)
	if w := do(h, http.MethodGet, "/axis/q/pos", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 got %d", w.Code)
	}
}

func TestVelocity(t *testing.T) {
	h, _, _ := setup(t)
	if w := do(h, http.MethodPost, "/axis/z/velocity", `{"f64": 1000}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d %s", w.Code, w.Body)
	}
	w := do(h, http.MethodGet, "/axis/z/velocity", "")
	f := generichttp.FloatT{}
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	// native units are rounded, so allow one count of slop
	if d := f.F64 - 1000; d > 0.05 || d < -0.05 {
		t.Errorf("expected ~1000 got %v", f.F64)
	}
}
