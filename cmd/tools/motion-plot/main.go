// motion-plot renders histograms of stored motion metrics to PNG.
// Useful for eyeballing the distributions behind the calibrated
// thresholds, e.g.:
//
//	motion-plot -db edge_cases.db -column accel_x_min -out accel_x_min.png
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/motion.report/internal/db"
)

var (
	dbFile  = flag.String("db", "edge_cases.db", "Path to the SQLite database file")
	column  = flag.String("column", "accel_x_min", "Motion column to plot")
	outFile = flag.String("out", "", "Output PNG path (default <column>.png)")
	bins    = flag.Int("bins", 40, "Histogram bin count")
)

func main() {
	flag.Parse()

	if *outFile == "" {
		*outFile = *column + ".png"
	}

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("opening %s: %v", *dbFile, err)
	}
	defer database.Close()

	store := db.NewFrameStore(database)
	values, err := store.MotionColumn(*column)
	if err != nil {
		log.Fatalf("reading column: %v", err)
	}
	if len(values) == 0 {
		fmt.Fprintf(os.Stderr, "no frames in %s; nothing to plot\n", *dbFile)
		os.Exit(1)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s over %d frames", *column, len(values))
	p.X.Label.Text = *column
	p.Y.Label.Text = "frames"

	hist, err := plotter.NewHist(plotter.Values(values), *bins)
	if err != nil {
		log.Fatalf("building histogram: %v", err)
	}
	p.Add(hist)

	if err := p.Save(10*vg.Inch, 6*vg.Inch, *outFile); err != nil {
		log.Fatalf("saving plot: %v", err)
	}
	log.Printf("wrote %s (mean=%.4f over %d frames)", *outFile, stat.Mean(values, nil), len(values))
}
