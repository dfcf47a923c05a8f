/*
mimicidx-index builds the gzip checkpoint sidecar and Subject-Range
Table columns for one or all datasets in a catalog.
*/
package main

import (
	"fmt"
	"os"

	mimicidx "github.com/brendondgr/mimic-project"
	flags "github.com/jessevdk/go-flags"
)

var opts struct {
	Verbose bool   `short:"v" long:"verbose" description:"display verbose debug output"`
	Force   bool   `short:"f" long:"force"   description:"rebuild even if checkpoints look up to date"`
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

	builder := mimicidx.NewBuilder(catalog, rangeTable, cfg.CheckpointSpacing, &logger)
	builder.Force = opts.Force

	ids := catalog.IDs()
	if opts.Args.DatasetID != "all" {
		ids = []string{opts.Args.DatasetID}
		if _, ok := catalog.Lookup(opts.Args.DatasetID); !ok {
			fmt.Fprintf(os.Stderr, "unknown dataset %q\n", opts.Args.DatasetID)
			os.Exit(1)
		}
	}

	for _, id := range ids {
		vprintf("+ building index for %s\n", id)
		if err := builder.Build(id); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	if err := rangeTable.Save(cfg.RangeTablePath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}

	vprintf("+ done\n")
}
