// Command ptv drives the flowtrace core: parameter conversion, the
// calibration progression, sequence processing, tracking, and the run
// ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracerlab/flowtrace/internal/calib"
	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
	"github.com/tracerlab/flowtrace/internal/ptv/pipeline"
	"github.com/tracerlab/flowtrace/internal/runstore"
	"github.com/tracerlab/flowtrace/internal/version"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: ptv <command> [flags]

commands:
  convert    convert parameters between JSON and the legacy directory format
  calibrate  run calibration progression steps
  sequence   run detection + correspondence over the configured frame range
  track      run tracking over the written sequence results
  traj       chain trajectories from the written link files
  runs       list recorded runs from the ledger
  version    print the build version

run "ptv <command> -h" for the flags of one command.
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "convert":
		cmdConvert(os.Args[2:])
	case "calibrate":
		cmdCalibrate(os.Args[2:])
	case "sequence":
		cmdSequence(os.Args[2:])
	case "track":
		cmdTrack(os.Args[2:])
	case "traj":
		cmdTraj(os.Args[2:])
	case "runs":
		cmdRuns(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("ptv %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	default:
		fmt.Fprintf(os.Stderr, "ptv: unknown command %q\n", os.Args[1])
		usage()
	}
}

// commonFlags holds the flags shared by every processing command.
type commonFlags struct {
	paramsPath *string
	root       *string
	res        *string
	dbPath     *string
	verbose    *bool
	trace      *bool
}

func addCommon(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		paramsPath: fs.String("params", "parameters.json", "parameter document (JSON)"),
		root:       fs.String("root", ".", "base directory for images and calibration inputs"),
		res:        fs.String("res", "res", "directory for per-frame outputs"),
		dbPath:     fs.String("db", "", "run ledger SQLite file (empty: no ledger)"),
		verbose:    fs.Bool("verbose", false, "enable diagnostic logging"),
		trace:      fs.Bool("trace", false, "enable per-frame trace logging"),
	}
}

func (c *commonFlags) setup() (ptv.Workspace, *params.ConfigDocument) {
	w := ptv.LogWriters{Ops: os.Stderr}
	if *c.verbose {
		w.Diag = os.Stderr
	}
	if *c.trace {
		w.Diag = os.Stderr
		w.Trace = os.Stderr
	}
	ptv.SetLogWriters(w)

	doc, err := params.LoadDocument(*c.paramsPath)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	ws := ptv.Workspace{Root: *c.root, ResDir: *c.res}
	if err := os.MkdirAll(ws.ResDir, 0o755); err != nil {
		log.Fatalf("ptv: create result directory: %v", err)
	}
	return ws, doc
}

// openLedger opens the run ledger when configured; the returned cleanup
// finishes the run entry.
func (c *commonFlags) openLedger(kind string, first, last int) (*runstore.Store, *runstore.Run, func(error)) {
	if *c.dbPath == "" {
		return nil, nil, func(error) {}
	}
	store, err := runstore.Open(*c.dbPath)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	run, err := store.BeginRun(kind, *c.paramsPath, first, last)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	return store, run, func(runErr error) {
		if err := store.FinishRun(run.ID, runErr); err != nil {
			log.Printf("ptv: finish run: %v", err)
		}
		store.Close()
	}
}

func cmdConvert(args []string) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	jsonPath := fs.String("json", "parameters.json", "JSON parameter document")
	legacyDir := fs.String("legacy", "parameters", "legacy parameter directory")
	toJSON := fs.Bool("to-json", false, "convert legacy directory to JSON (default: JSON to legacy)")
	fs.Parse(args)

	if *toJSON {
		doc, err := params.ReadLegacyDir(*legacyDir)
		if err != nil {
			log.Fatalf("ptv: %v", err)
		}
		if err := params.SaveDocument(*jsonPath, doc); err != nil {
			log.Fatalf("ptv: %v", err)
		}
		log.Printf("wrote %s (%d cameras)", *jsonPath, doc.NumCams)
		return
	}
	doc, err := params.LoadDocument(*jsonPath)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	if err := params.WriteLegacyDir(*legacyDir, doc); err != nil {
		log.Fatalf("ptv: %v", err)
	}
	log.Printf("wrote legacy parameters to %s", *legacyDir)
}

func cmdCalibrate(args []string) {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	c := addCommon(fs)
	step := fs.String("step", "all", "progression step: detect, sortgrid, raworient, refine, dumbbell, restore or all")
	radius := fs.Float64("radius", 0, "grid match radius in pixels (0: default)")
	fs.Parse(args)

	ws, doc := c.setup()
	_, _, finish := c.openLedger("calibrate", 0, 0)

	err := runCalibration(doc, ws, *step, *radius)
	finish(err)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
}

func runCalibration(doc *params.ConfigDocument, ws ptv.Workspace, step string, radius float64) error {
	s, err := calib.NewSession(doc, ws)
	if err != nil {
		return err
	}

	if step == "restore" {
		return s.Restore()
	}

	run := func(name string, fn func() error) error {
		if step != "all" && step != name {
			return nil
		}
		return fn()
	}
	if err := run("detect", s.Detect); err != nil {
		return err
	}
	if err := run("sortgrid", func() error { return s.SortGrid(radius) }); err != nil {
		return err
	}
	if err := run("raworient", s.RawOrient); err != nil {
		return err
	}
	if err := run("refine", s.Refine); err != nil {
		return err
	}
	if step == "dumbbell" {
		db, err := params.PopulateDumbbellParams(doc)
		if err != nil {
			return err
		}
		sp, err := params.PopulateSequenceParams(doc)
		if err != nil {
			return err
		}
		if err := s.RefineDumbbell(db, sp); err != nil {
			return err
		}
	}
	log.Printf("calibration state: %s (combined=%v, residual %.4f px)",
		s.State(), s.Combined(), s.Residual())
	return nil
}

func cmdSequence(args []string) {
	fs := flag.NewFlagSet("sequence", flag.ExitOnError)
	c := addCommon(fs)
	fs.Parse(args)

	ws, doc := c.setup()
	runner, err := pipeline.NewRunner(doc, ws, pipeline.NewRegistry())
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	first, last := runner.FrameRange()
	store, run, finish := c.openLedger("sequence", first, last)
	attachStats(runner, store, run)

	err = runner.RunSequence(signalContext())
	finish(err)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
}

func cmdTrack(args []string) {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	c := addCommon(fs)
	back := fs.Bool("back", false, "also run the backward gap-closing pass")
	fs.Parse(args)

	ws, doc := c.setup()
	runner, err := pipeline.NewRunner(doc, ws, pipeline.NewRegistry())
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	first, last := runner.FrameRange()
	store, run, finish := c.openLedger("tracking", first, last)
	attachStats(runner, store, run)

	ctx := signalContext()
	err = runner.RunTracking(ctx)
	if err == nil && *back {
		err = runner.RunTrackingBack(ctx)
	}
	finish(err)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
}

func cmdTraj(args []string) {
	fs := flag.NewFlagSet("traj", flag.ExitOnError)
	c := addCommon(fs)
	fs.Parse(args)

	ws, doc := c.setup()
	sp, err := params.PopulateSequenceParams(doc)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	trajs, err := ptv.ChainTrajectories(ws, sp.First, sp.Last)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	longest := 0
	for _, t := range trajs {
		if len(t.Points) > longest {
			longest = len(t.Points)
		}
	}
	log.Printf("%d trajectories over frames %d..%d (longest %d points)",
		len(trajs), sp.First, sp.Last, longest)
}

func cmdRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "flowtrace.db", "run ledger SQLite file")
	limit := fs.Int("limit", 20, "number of runs to list")
	fs.Parse(args)

	store, err := runstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(*limit)
	if err != nil {
		log.Fatalf("ptv: %v", err)
	}
	for _, r := range runs {
		started := time.Unix(0, r.StartedNs).Format(time.RFC3339)
		detail := ""
		if r.Error != "" {
			detail = " error: " + r.Error
		}
		fmt.Printf("%s  %-10s %-9s frames %d..%d  %s%s\n",
			r.ID[:8], r.Kind, r.Status, r.FrameFirst, r.FrameLast, started, detail)
	}
}

// attachStats wires the run ledger into the pipeline's per-frame callback.
func attachStats(runner *pipeline.Runner, store *runstore.Store, run *runstore.Run) {
	if store == nil {
		return
	}
	runner.SetFrameStats(func(frame int, targets []int, classes []int, links int) {
		st := runstore.FrameStat{Frame: frame, Targets: targets, Classes: classes, Links: links}
		if err := store.RecordFrame(run.ID, st); err != nil {
			log.Printf("ptv: record frame %d: %v", frame, err)
		}
	})
}

// signalContext returns a context cancelled by SIGINT/SIGTERM. The
// pipeline checks it between frames, never mid-file.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}
