/*
mimicidx_consistency is a throwaway dev tool: it reads every row of a
dataset's raw decompressed stream directly, groups rows by subject id,
then re-fetches each subject through the query engine and diffs the
two row sets. Unlike mimicidx-verify it checks every subject, not a
random sample, so it's slow on a full-size dataset -- run it against a
trimmed fixture.
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

	catalog, err := mimicidx.LoadCatalog(opts.Catalog, cfg.BaseDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	desc, ok := catalog.Lookup(opts.Args.DatasetID)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown dataset %q\n", opts.Args.DatasetID)
		os.Exit(1)
	}

	rangeTable := mimicidx.NewRangeTable()
	if err := rangeTable.Load(cfg.RangeTablePath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := mimicidx.NewCLILogger(opts.Verbose)
	engine, err := mimicidx.NewQueryEngine(catalog, rangeTable, opts.Args.DatasetID, &logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	engine.Spacing = cfg.CheckpointSpacing

	expected, err := readAllGroupedBySubject(desc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
	vprintf("+ read %d subjects directly from %s\n", len(expected), desc.FilePath)

	mismatches := 0
	for sid, wantLines := range expected {
		batch, err := engine.Search(sid)
		if err != nil {
			fmt.Printf("subject %d: query failed: %s\n", sid, err)
			mismatches++
			continue
		}
		if !sameLines(wantLines, batch.Lines) {
			fmt.Printf("subject %d: mismatch (%d lines expected, %d returned)\n", sid, len(wantLines), len(batch.Lines))
			mismatches++
		}
	}

	if mismatches > 0 {
		fmt.Printf("%d / %d subjects mismatched\n", mismatches, len(expected))
		os.Exit(1)
	}
	fmt.Printf("%d / %d subjects consistent\n", len(expected), len(expected))
}

func readAllGroupedBySubject(desc mimicidx.Descriptor) (map[int64][]string, error) {
	r, err := mimicidx.NewReader(desc.FilePath, mimicidx.ReaderOptions{})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := r.BuildFullIndex(mimicidx.DefaultCheckpointSpacing); err != nil {
		return nil, err
	}
	if err := r.Seek(0); err != nil {
		return nil, err
	}

	if _, err := r.ReadLine(); err != nil { // skip header
		return nil, err
	}

	out := make(map[int64][]string)
	for {
		line, err := r.ReadLine()
		if err != nil {
			break
		}
		sid, ok := firstField(line)
		if !ok {
			continue
		}
		out[sid] = append(out[sid], string(line))
	}
	return out, nil
}

func firstField(line []byte) (int64, bool) {
	i := 0
	for i < len(line) && line[i] != ',' {
		i++
	}
	var sid int64
	if i == 0 {
		return 0, false
	}
	for _, b := range line[:i] {
		if b < '0' || b > '9' {
			return 0, false
		}
		sid = sid*10 + int64(b-'0')
	}
	return sid, true
}

func sameLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, l := range a {
		seen[l]++
	}
	for _, l := range b {
		seen[l]--
	}
	for _, count := range seen {
		if count != 0 {
			return false
		}
	}
	return true
}
