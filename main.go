package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/banshee-data/motion.report/internal/api"
	"github.com/banshee-data/motion.report/internal/calibrate"
	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/e2ed"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/pipeline"
	"github.com/banshee-data/motion.report/internal/units"
	"github.com/banshee-data/motion.report/internal/version"
)

const usageText = `motion.report: edge-case mining for driving logs

Usage:
  motion-report load [flags] <file.tfrecord> [...]
  motion-report serve [flags]
  motion-report thresholds [flags] [file.tfrecord]
  motion-report migrate [flags] <up|down|version|force <N>>
  motion-report version

Run "motion-report <command> -h" for command flags.
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "load":
		err = runLoad(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "thresholds":
		err = runThresholds(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "version":
		fmt.Printf("motion-report %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	case "-h", "--help", "help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usageText)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func openStore(dbFile string) (*db.DB, *db.FrameStore, error) {
	database, err := db.Open(dbFile)
	if err != nil {
		return nil, nil, err
	}
	if err := database.MigrateUp(); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("migrating %s: %w", dbFile, err)
	}
	return database, db.NewFrameStore(database), nil
}

func runLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	dbFile := fs.String("db", "edge_cases.db", "Path to the SQLite database file")
	thresholdsFile := fs.String("thresholds", "thresholds.json", "Path to the threshold artifact")
	recalibrate := fs.Bool("recalibrate", false, "Recompute thresholds even if the artifact exists")
	panoWorkers := fs.Int("pano-workers", 2, "Panorama compositing workers")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("no input files")
	}
	if *debug {
		monitoring.EnableDebug()
	}

	database, store, err := openStore(*dbFile)
	if err != nil {
		return err
	}
	defer database.Close()

	for i, path := range fs.Args() {
		src := e2ed.FileSource{Path: path}

		// The first file may recalibrate; later files reuse the artifact
		// so one run detects against one threshold set.
		force := *recalibrate && i == 0
		thresholds, err := calibrate.Calibrate(src, *thresholdsFile, force)
		if err != nil {
			return fmt.Errorf("calibrating from %s: %w", src.Name(), err)
		}

		sum, err := pipeline.Run(src, store, thresholds, pipeline.Config{PanoramaWorkers: *panoWorkers})
		if err != nil {
			return fmt.Errorf("processing %s: %w", src.Name(), err)
		}
		if err := pipeline.Report(os.Stdout, sum, store); err != nil {
			return err
		}
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbFile := fs.String("db", "edge_cases.db", "Path to the SQLite database file")
	listen := fs.String("listen", ":8080", "HTTP listen address")
	speedUnits := fs.String("units", units.MPS, "Speed units for API output ("+units.GetValidUnitsString()+")")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	if !units.IsValid(*speedUnits) {
		return fmt.Errorf("invalid units %q (valid: %s)", *speedUnits, units.GetValidUnitsString())
	}
	if *debug {
		monitoring.EnableDebug()
	}

	database, store, err := openStore(*dbFile)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(api.NewServer(store, *speedUnits).ServeMux()),
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("serving %s on %s (units=%s)", *dbFile, *listen, *speedUnits)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runThresholds(args []string) error {
	fs := flag.NewFlagSet("thresholds", flag.ExitOnError)
	thresholdsFile := fs.String("thresholds", "thresholds.json", "Path to the threshold artifact")
	recalibrate := fs.Bool("recalibrate", false, "Recompute thresholds even if the artifact exists")
	fs.Parse(args)

	var thresholds calibrate.ThresholdSet
	var err error
	if fs.NArg() > 0 {
		src := e2ed.FileSource{Path: fs.Arg(0)}
		thresholds, err = calibrate.Calibrate(src, *thresholdsFile, *recalibrate)
	} else {
		thresholds, err = calibrate.Load(*thresholdsFile)
	}
	if err != nil {
		return err
	}

	fmt.Printf("hard_brake: %.6f m/s^2 (accel_x below)\n", thresholds.HardBrake)
	fmt.Printf("lateral:    %.6f m/s^2 (|accel_y| above)\n", thresholds.Lateral)
	fmt.Printf("jerk:       %.6f m/s^2 per step (|delta accel_x| above)\n", thresholds.Jerk)
	return nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbFile := fs.String("db", "edge_cases.db", "Path to the SQLite database file")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("missing direction: up, down, version, or force <N>")
	}

	database, err := db.Open(*dbFile)
	if err != nil {
		return err
	}
	defer database.Close()

	switch fs.Arg(0) {
	case "up":
		return database.MigrateUp()
	case "down":
		return database.MigrateDown()
	case "version":
		v, dirty, err := database.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty=%v)\n", v, dirty)
		return nil
	case "force":
		if fs.NArg() < 2 {
			return fmt.Errorf("force requires a version")
		}
		v, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version %q", fs.Arg(1))
		}
		return database.MigrateForce(v)
	default:
		return fmt.Errorf("unknown migrate direction %q", fs.Arg(0))
	}
}
