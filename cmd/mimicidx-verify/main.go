/*
mimicidx-verify samples known subjects from a dataset, queries each
one, and reports median/p99 latency plus the count of any corrupt
results (Scenario E6: a non-strict performance check, not a hard
pass/fail gate). Any other query error ends the run with exit 2.
*/
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	mimicidx "github.com/brendondgr/mimic-project"
	flags "github.com/jessevdk/go-flags"
)

var opts struct {
	Verbose bool   `short:"v" long:"verbose" description:"display verbose debug output"`
	Count   int    `short:"n" long:"count"   description:"number of random subjects to sample" default:"100"`
	Catalog string `short:"c" long:"catalog" description:"path to the catalog manifest" default:"catalog.yaml"`
	Env     string `short:"e" long:"env"     description:"path to a .env file" default:".env"`
	Args    struct {
		DatasetID string
	} `positional-args:"yes" required:"yes"`
}

var parser = flags.NewParser(&opts, flags.Default&^flags.PrintErrors)

func usage() {
	parser.WriteHelp(os.Stderr)
	os.Exit(1)
}

func vprintf(format string, args ...interface{}) {
	if opts.Verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func main() {
	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type != flags.ErrHelp {
			fmt.Fprintf(os.Stderr, "%s\n\n", err)
		}
		usage()
	}

	cfg, err := mimicidx.LoadConfig(opts.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}

	logger := mimicidx.NewCLILogger(opts.Verbose)

	catalog, err := mimicidx.LoadCatalog(opts.Catalog, cfg.BaseDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	rangeTable := mimicidx.NewRangeTable()
	if err := rangeTable.Load(cfg.RangeTablePath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	engine, err := mimicidx.NewQueryEngine(catalog, rangeTable, opts.Args.DatasetID, &logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	engine.Spacing = cfg.CheckpointSpacing

	subjects := rangeTable.KnownSubjects()
	if len(subjects) == 0 {
		fmt.Fprintln(os.Stderr, "subject range table has no known subjects")
		os.Exit(2)
	}

	rng := rand.New(rand.NewSource(1))
	sample := opts.Count
	if sample > len(subjects) {
		sample = len(subjects)
	}

	var durations []time.Duration
	corrupt := 0
	for i := 0; i < sample; i++ {
		sid := subjects[rng.Intn(len(subjects))]
		vprintf("+ lookup %d: subject %d\n", i, sid)

		start := time.Now()
		_, err := engine.Search(sid)
		durations = append(durations, time.Since(start))

		if err != nil {
			if engineErr, ok := err.(*mimicidx.EngineError); ok && engineErr.Kind == mimicidx.KindCorruptIndex {
				fmt.Printf("Error: subject %d returned a corrupt range: %s\n", sid, err)
				corrupt++
				continue
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	stats := mimicidx.SummarizeLatencies(durations)
	fmt.Printf("%d queries: median %s, p99 %s, max %s\n", stats.Count, stats.Median, stats.P99, stats.Max)
	if corrupt > 0 {
		fmt.Printf("%d / %d queries returned a corrupt range\n", corrupt, sample)
		os.Exit(2)
	}
}
