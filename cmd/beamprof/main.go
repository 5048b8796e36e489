// Command beamprof measures a laser beam along its axis of propagation.  A
// camera on a linear stage is stepped through focus and the spot at each
// position is reduced into a volume, which is exported as an interactive
// rendering, a FITS cube, a projection, and a table of beam widths.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/nasa-jpl/beamprof/microscope"
	"github.com/theckman/yacspin"
	"go.bug.st/serial"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "beamprof.yml"
	k              = koanf.New(".")
)

func root() {
	str := `beamprof scans a camera through the focus of a beam on a Zaber stage and
reconstructs the beam in three dimensions

Usage:
	beamprof <command>

Commands:
	scan
	serve
	demo
	ports
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `beamprof is amenable to configuration via its .yml file, beamprof.yml, and
environment variables prefixed with BEAMPROF_.  Nested keys are joined with
underscores, e.g. BEAMPROF_SCAN_BURSTSIZE=10.  mkconf writes the defaults.

scan    moves the stage from Scan.Start towards Scan.End in steps of Scan.Step,
        collapsing Scan.BurstSize frames at each position, then writes
        profile_z.html (and optionally profile.fits, profile_mip.png and
        caustic.csv) to Output.Dir
serve   exposes the stage, camera, and scans over HTTP on Addr
demo    runs the microscope demonstration on the devices in Microscope
ports   lists the serial ports on this computer

The stage is the first device on the chain matching Stage.Address, Stage.ID, or
Stage.NameContains, in that order.  The process exits if none is found.

With Mock set, the stage and camera are simulated and no hardware is needed.`
	fmt.Println(str)
}

func pversion() {
	fmt.Printf("beamprof version %v\n", Version)
}

func spinner() (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " scanning",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
}

func runscan() {
	c := getConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	spin, err := spinner()
	if err != nil {
		log.Fatal(err)
	}
	if err = spin.Start(); err != nil {
		log.Fatal(err)
	}
	files, err := runScan(ctx, c, log.Default(), spin.Message)
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		log.Fatal(err)
	}
	spin.StopMessage("done")
	spin.Stop()
	for _, f := range files {
		log.Println("wrote", f)
	}
}

func serve() {
	c := getConfig()
	r, err := openRig(c)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()
	if err = prepare(context.Background(), c, r); err != nil {
		log.Fatal(err)
	}
	mux := buildRouter(c, r, log.Default(), nil)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func demo() {
	c := getConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	m, conn := openMicroscope(c)
	defer conn.Close()
	if err := microscope.Demo(ctx, m, log.Default()); err != nil {
		log.Fatal(err)
	}
	log.Println("demo complete")
}

func ports() {
	list, err := serial.GetPortsList()
	if err != nil {
		log.Fatal(err)
	}
	if len(list) == 0 {
		fmt.Println("no serial ports found")
		return
	}
	for _, p := range list {
		fmt.Println(p)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "scan":
		runscan()
		return
	case "serve":
		serve()
		return
	case "demo":
		demo()
		return
	case "ports":
		ports()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
