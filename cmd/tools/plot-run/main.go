// Command plot-run prints the per-phase summary of a recorded run and writes
// its heading and offset trace to a PNG.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/harshv834/auv/internal/db"
	"github.com/harshv834/auv/internal/report"
)

func main() {
	dbPath := flag.String("db", "linefollow.db", "path to the run log")
	runID := flag.String("run", "", "run to plot (default: most recent)")
	out := flag.String("out", "", "PNG output path (default: <run>.png)")
	asJSON := flag.Bool("json", false, "print the summary as JSON")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("DB path %s not accessible: %v", *dbPath, err)
	}
	runLog, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open run log: %v", err)
	}
	defer runLog.Close()

	if err := plotRun(runLog, *runID, *out, *asJSON, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func plotRun(runLog *db.DB, runID, out string, asJSON bool, w io.Writer) error {
	run, err := pickRun(runLog, runID)
	if err != nil {
		return err
	}
	samples, err := runLog.Samples(run.RunID)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}
	if len(samples) == 0 {
		return fmt.Errorf("run %s has no samples", run.RunID)
	}

	sum := report.Summarize(samples)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "run %s: %s (%d align attempts)\n", run.RunID, run.Phase, run.AlignAttempts)
		if err := sum.WriteText(w); err != nil {
			return err
		}
	}

	if out == "" {
		out = run.RunID + ".png"
	}
	title := fmt.Sprintf("Run %s (%s)", run.RunID, run.Phase)
	if err := report.PlotHeading(samples, title, out); err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	log.Printf("wrote %s", out)
	return nil
}

func pickRun(runLog *db.DB, runID string) (db.Run, error) {
	if runID != "" {
		return runLog.Run(runID)
	}
	runs, err := runLog.Runs(1)
	if err != nil {
		return db.Run{}, err
	}
	if len(runs) == 0 {
		return db.Run{}, fmt.Errorf("no runs recorded")
	}
	return runs[0], nil
}
