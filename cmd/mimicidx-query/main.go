/*
mimicidx-query looks up one subject's rows in a single dataset, every
wired dataset, or lists the subjects/datasets a catalog knows about.
*/
package main

import (
	"fmt"
	"os"
	"strconv"

	mimicidx "github.com/brendondgr/mimic-project"
	flags "github.com/jessevdk/go-flags"
)

var opts struct {
	Verbose       bool   `short:"v" long:"verbose"        description:"display verbose debug output"`
	All           bool   `short:"a" long:"all"            description:"query every dataset instead of one"`
	Dataset       string `short:"d" long:"dataset"        description:"dataset id to query"`
	Catalog       string `short:"c" long:"catalog"        description:"path to the catalog manifest" default:"catalog.yaml"`
	Env           string `short:"e" long:"env"            description:"path to a .env file" default:".env"`
	ListSubjects  bool   `long:"list-subjects"            description:"print every known subject id and exit"`
	ListDatasets  bool   `long:"list-datasets"            description:"print every registered dataset id and exit"`
	Args          struct {
		SubjectID string
	} `positional-args:"yes"`
}

var parser = flags.NewParser(&opts, flags.Default&^flags.PrintErrors)

func usage() {
	parser.WriteHelp(os.Stderr)
	os.Exit(1)
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

	if opts.ListDatasets {
		for _, id := range catalog.IDs() {
			fmt.Println(id)
		}
		return
	}

	rangeTable := mimicidx.NewRangeTable()
	if err := rangeTable.Load(cfg.RangeTablePath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if opts.ListSubjects {
		for _, sid := range rangeTable.KnownSubjects() {
			fmt.Println(sid)
		}
		return
	}

	if opts.Args.SubjectID == "" {
		usage()
	}
	subjectID, err := strconv.ParseInt(opts.Args.SubjectID, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subject id %q is not an integer\n", opts.Args.SubjectID)
		os.Exit(1)
	}

	if opts.All {
		facade := mimicidx.NewFacade(catalog, rangeTable, &logger)
		batches := facade.GetAll(subjectID)
		for _, id := range facade.DatasetIDs() {
			batch, ok := batches[id]
			if !ok {
				continue
			}
			printBatch(batch)
		}
		return
	}

	if opts.Dataset == "" {
		fmt.Fprintln(os.Stderr, "one of --all or --dataset is required")
		usage()
	}

	engine, err := mimicidx.NewQueryEngine(catalog, rangeTable, opts.Dataset, &logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	engine.Spacing = cfg.CheckpointSpacing

	batch, err := engine.Search(subjectID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if engineErr, ok := asEngineError(err); ok && engineErr.Kind == mimicidx.KindUsage {
			os.Exit(1)
		}
		os.Exit(2)
	}
	printBatch(batch)
}

func printBatch(batch mimicidx.RowBatch) {
	for _, line := range batch.Lines {
		fmt.Printf("%s:%s\n", batch.DatasetID, line)
	}
}

func asEngineError(err error) (*mimicidx.EngineError, bool) {
	e, ok := err.(*mimicidx.EngineError)
	return e, ok
}
