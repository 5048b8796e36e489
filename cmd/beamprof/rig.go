package main

import (
	"errors"
	"fmt"

	"github.com/nasa-jpl/beamprof/camera"
	"github.com/nasa-jpl/beamprof/microscope"
	"github.com/nasa-jpl/beamprof/motion"
	"github.com/nasa-jpl/beamprof/zaber"
)

// ids of the simulated devices
const (
	mockStageID   = 1001
	mockFocusID   = 1002
	mockIndexedID = 1003
	mockXYID      = 1004
	mockLampID    = 1005
)

var errNoCamera = errors.New("no camera configured: set Camera.URL or Mock")

// rig is the stage and camera of a scan
type rig struct {
	conn  *zaber.Connection
	chain *zaber.MockChain // nil on hardware

	Stage  *zaber.Axis
	Camera camera.Capturer
}

func (r *rig) Close() error {
	return r.conn.Close()
}

func selector(c StageConfig) zaber.Selector {
	switch {
	case c.Address != 0:
		return zaber.AddressIs(c.Address)
	case c.ID != 0:
		return zaber.IDIs(c.ID)
	default:
		return zaber.NameContains(c.NameContains)
	}
}

func connect(c Config, devs ...*zaber.MockDevice) (*zaber.Connection, *zaber.MockChain) {
	if c.Mock {
		conn, chain := zaber.NewMockConnection(devs...)
		conn.Names[mockStageID] = "simulated LSQ"
		conn.Names[mockFocusID] = "simulated focus"
		conn.Names[mockIndexedID] = "simulated turret"
		conn.Names[mockXYID] = "simulated XY"
		conn.Names[mockLampID] = "simulated illuminator"
		return conn, chain
	}
	conn := zaber.NewConnection(c.Stage.Addr, c.Stage.Serial)
	for id, name := range c.Stage.Names {
		conn.Names[id] = name
	}
	return conn, nil
}

// openRig connects to the stage and camera.  The stage must be on the chain,
// or zaber.ErrDeviceNotFound is returned.
func openRig(c Config) (*rig, error) {
	// about 100 mm of travel, already referenced
	stage := &zaber.MockDevice{Address: 1, ID: mockStageID, Axes: []*zaber.MockAxis{
		{Max: 2100000, Homed: true, BusyPolls: 2, MaxSpeed: 153600}}}
	conn, chain := connect(c, stage)
	dev, err := conn.FindDevice(selector(c.Stage))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("stage: %w", err)
	}
	r := &rig{conn: conn, chain: chain, Stage: dev.Axis(c.Stage.Axis)}
	if c.Stage.MicrostepUm > 0 {
		r.Stage.MicrostepSize = c.Stage.MicrostepUm
	}
	r.Camera, err = openCamera(c, r)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func openCamera(c Config, r *rig) (camera.Capturer, error) {
	if c.Camera.URL != "" {
		return camera.NewRemote(c.Camera.URL), nil
	}
	if !c.Mock {
		return nil, errNoCamera
	}
	cc := c.Camera
	spot := camera.NewSpot(cc.Width, cc.Height, cc.WaistPx)
	spot.Noise = cc.Noise
	if r.chain != nil {
		dev, axis, step := r.Stage.Device, r.Stage.Number, r.Stage.MicrostepSize
		pos := func() float64 { return float64(r.chain.Position(dev, axis)) * step }
		spot.Waist = camera.Caustic(cc.WaistPx, cc.FocusUm, cc.RayleighUm, pos)
	}
	return spot, nil
}

// mockMicroscope builds a simulated chain with every device in cfg
func mockMicroscope(cfg microscope.Config) []*zaber.MockDevice {
	var devs []*zaber.MockDevice
	if cfg.Illuminator != 0 {
		devs = append(devs, &zaber.MockDevice{Address: cfg.Illuminator, ID: mockLampID})
	}
	if cfg.FocusAxis.Device != 0 {
		devs = append(devs, zaber.NewMockLinearStage(cfg.FocusAxis.Device, mockFocusID, 1000000))
	}
	if cfg.FilterChanger != 0 {
		devs = append(devs, zaber.NewMockIndexed(cfg.FilterChanger, mockIndexedID, 6))
	}
	if cfg.ObjectiveChanger != 0 {
		devs = append(devs, zaber.NewMockIndexed(cfg.ObjectiveChanger, mockIndexedID, 4))
	}
	if cfg.XAxis.Device != 0 {
		xy := &zaber.MockDevice{Address: cfg.XAxis.Device, ID: mockXYID}
		n := cfg.XAxis.Axis
		if cfg.YAxis.Device == cfg.XAxis.Device && cfg.YAxis.Axis > n {
			n = cfg.YAxis.Axis
		}
		for i := 0; i < n; i++ {
			xy.Axes = append(xy.Axes, &zaber.MockAxis{Max: 4000000, BusyPolls: 1})
		}
		devs = append(devs, xy)
	}
	return devs
}

// openMicroscope connects to the microscope chain
func openMicroscope(c Config) (*microscope.Microscope, *zaber.Connection) {
	conn, _ := connect(c, mockMicroscope(c.Microscope)...)
	return microscope.New(conn, c.Microscope), conn
}

// stageController exposes the stage to HTTP as axis "z", in microns
func stageController(r *rig) *zaber.Controller {
	return zaber.NewController(motion.Micrometer, map[string]*zaber.Axis{"z": r.Stage})
}
