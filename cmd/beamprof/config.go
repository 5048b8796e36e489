package main

import (
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/nasa-jpl/beamprof/microscope"
	"github.com/nasa-jpl/beamprof/scan"
	"github.com/nasa-jpl/beamprof/util"
	"github.com/nasa-jpl/beamprof/zaber"

	yml "gopkg.in/yaml.v2"
)

const envPrefix = "BEAMPROF_"

// StageConfig locates the linear stage the camera rides on
type StageConfig struct {
	// Addr is a serial port (Serial true) or host:port
	Addr   string `koanf:"Addr" yaml:"Addr"`
	Serial bool   `koanf:"Serial" yaml:"Serial"`

	// the stage is the first detected device matching, in order of
	// precedence, Address, ID, or NameContains
	Address      int    `koanf:"Address" yaml:"Address"`
	ID           int    `koanf:"ID" yaml:"ID"`
	NameContains string `koanf:"NameContains" yaml:"NameContains"`

	// Names maps device IDs to product names for NameContains
	Names map[int]string `koanf:"Names" yaml:"Names"`

	Axis int `koanf:"Axis" yaml:"Axis"`

	// MicrostepUm is the travel of one microstep
	MicrostepUm float64 `koanf:"MicrostepUm" yaml:"MicrostepUm"`

	// VelocityUm sets the maximum speed in um/s; zero leaves the device setting
	VelocityUm float64 `koanf:"VelocityUm" yaml:"VelocityUm"`

	// HomeFirst homes the stage before a scan if it has no reference
	HomeFirst bool `koanf:"HomeFirst" yaml:"HomeFirst"`

	// Limits are software limits on moves made over HTTP, um
	Limits util.Limiter `koanf:"Limits" yaml:"Limits"`
}

// CameraConfig is the camera; an empty URL with Mock set uses a simulated beam
type CameraConfig struct {
	// URL is the root of a camera served by another process
	URL string `koanf:"URL" yaml:"URL"`

	// Width and Height are the frame size of the simulated camera
	Width  int `koanf:"Width" yaml:"Width"`
	Height int `koanf:"Height" yaml:"Height"`

	// WaistPx, FocusUm and RayleighUm shape the simulated beam
	WaistPx    float64 `koanf:"WaistPx" yaml:"WaistPx"`
	FocusUm    float64 `koanf:"FocusUm" yaml:"FocusUm"`
	RayleighUm float64 `koanf:"RayleighUm" yaml:"RayleighUm"`
	Noise      float64 `koanf:"Noise" yaml:"Noise"`
}

// OutputConfig controls the artifacts of a scan
type OutputConfig struct {
	Dir   string `koanf:"Dir" yaml:"Dir"`
	Title string `koanf:"Title" yaml:"Title"`

	// PixelSizeUm is the pitch of the camera pixels
	PixelSizeUm float64 `koanf:"PixelSizeUm" yaml:"PixelSizeUm"`

	// SensorGrid lays out the 3D rendering at the camera pixel pitch instead
	// of the pitch of the reduced slices, which reproduces renderings made
	// before the reduction scale was accounted for.  The other artifacts are
	// always in physical units.
	SensorGrid bool `koanf:"SensorGrid" yaml:"SensorGrid"`

	Fits    bool `koanf:"Fits" yaml:"Fits"`
	MIP     bool `koanf:"MIP" yaml:"MIP"`
	Caustic bool `koanf:"Caustic" yaml:"Caustic"`

	// RecordSlices writes every slice as a PNG under SliceDir
	RecordSlices bool   `koanf:"RecordSlices" yaml:"RecordSlices"`
	SliceDir     string `koanf:"SliceDir" yaml:"SliceDir"`
}

// Config is the whole configuration file
type Config struct {
	// Mock replaces the hardware with a simulated stage and camera
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Addr is the listen address of serve
	Addr string `koanf:"Addr" yaml:"Addr"`

	Stage      StageConfig       `koanf:"Stage" yaml:"Stage"`
	Camera     CameraConfig      `koanf:"Camera" yaml:"Camera"`
	Scan       scan.Config       `koanf:"Scan" yaml:"Scan"`
	Output     OutputConfig      `koanf:"Output" yaml:"Output"`
	Microscope microscope.Config `koanf:"Microscope" yaml:"Microscope"`
}

func defaultConfig() Config {
	return Config{
		Addr: ":8000",
		Stage: StageConfig{
			Addr:         "/dev/ttyUSB0",
			Serial:       true,
			NameContains: "LSQ",
			Names:        map[int]string{},
			Axis:         1,
			MicrostepUm:  zaber.DefaultMicrostepSize,
		},
		Camera: CameraConfig{
			Width:      640,
			Height:     480,
			WaistPx:    25,
			FocusUm:    45000,
			RayleighUm: 2500,
			Noise:      4,
		},
		Scan: scan.DefaultConfig(),
		Output: OutputConfig{
			Dir:         ".",
			Title:       "beam profile",
			PixelSizeUm: 2.74,
			Fits:        true,
			MIP:         true,
			Caustic:     true,
			SliceDir:    "slices",
		},
		Microscope: microscope.MSRConfig(),
	}
}

// envKey maps BEAMPROF_SCAN_BURSTSIZE to Scan.BurstSize
func envKey(k *koanf.Koanf) func(string) string {
	return func(s string) string {
		s = strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, envPrefix), "_", "."))
		for _, key := range k.Keys() {
			if strings.ToLower(key) == s {
				return key
			}
		}
		return s
	}
}

func loadConfig(k *koanf.Koanf, fn string) error {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(fn), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") { // file missing, who cares
			return err
		}
	}
	return k.Load(env.Provider(envPrefix, ".", envKey(k)), nil)
}

func setupconfig() {
	if err := loadConfig(k, ConfigFileName); err != nil {
		log.Fatalf("error loading config: %v", err)
	}
}

func getConfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := getConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := getConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}
