// sobpack packs a directory of class blobs into a SQLite asset pack, or
// lists and extracts an existing pack.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chazu/sauce/assets"
	"github.com/chazu/sauce/vm"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sobpack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	extract := fs.Bool("x", false, "Extract the pack into dir instead of packing dir")
	list := fs.Bool("l", false, "List the blobs in the pack")
	check := fs.Bool("check", true, "Verify every blob parses before packing")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: sobpack [options] pack [dir]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  sobpack moop.pack data/      # Pack data/*.sob\n")
		fmt.Fprintf(stderr, "  sobpack -l moop.pack         # List contents\n")
		fmt.Fprintf(stderr, "  sobpack -x moop.pack out/    # Extract\n")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 || (!*list && fs.NArg() < 2) {
		fs.Usage()
		return 2
	}

	p, err := assets.OpenPack(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer p.Close()

	switch {
	case *list:
		err = listPack(stdout, p)
	case *extract:
		var n int
		if err = os.MkdirAll(fs.Arg(1), 0755); err == nil {
			n, err = p.Extract(fs.Arg(1))
		}
		if err == nil {
			fmt.Fprintf(stdout, "extracted %d blobs\n", n)
		}
	default:
		if *check {
			err = checkDir(fs.Arg(1))
		}
		if err == nil {
			var n int
			n, err = p.PackDir(fs.Arg(1))
			if err == nil {
				fmt.Fprintf(stdout, "packed %d blobs\n", n)
			}
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func listPack(w io.Writer, p *assets.Pack) error {
	names, err := p.Names()
	if err != nil {
		return err
	}
	for _, n := range names {
		data, _, err := p.Load(n)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%8d  %s\n", len(data), n)
	}
	return nil
}

// checkDir parses every blob in dir.
func checkDir(dir string) error {
	src := assets.NewDirSource(dir)
	names, err := src.Names()
	if err != nil {
		return err
	}
	for _, n := range names {
		data, _, err := src.Load(n)
		if err != nil {
			return err
		}
		if _, err := vm.ReadSobs(data, n); err != nil {
			return fmt.Errorf("%s: %w", n, err)
		}
	}
	return nil
}
