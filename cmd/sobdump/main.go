// sobdump prints the tables, disassembly and embedded source of class
// blobs, and decodes state snapshots written by sauce.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chazu/sauce/assets"
	"github.com/chazu/sauce/syscalls"
	"github.com/chazu/sauce/vm"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	game     vm.GameID
	tables   bool
	disasm   bool
	source   bool
	pack     string
	snapshot bool
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sobdump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	game := fs.String("game", "autorun", "Title profile used to decode operands")
	tables := fs.Bool("t", true, "Print section tables")
	disasm := fs.Bool("d", true, "Disassemble method bodies")
	source := fs.Bool("s", false, "Print embedded source")
	pack := fs.String("pack", "", "Read blobs by name from this SQLite asset pack")
	snapshot := fs.Bool("snapshot", false, "Arguments are CBOR snapshots, not blobs")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: sobdump [options] files...\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  sobdump data/Boot.sob               # Tables and disassembly\n")
		fmt.Fprintf(stderr, "  sobdump -d=false -s data/Boot.sob   # Tables and source only\n")
		fmt.Fprintf(stderr, "  sobdump -pack moop.pack Boot.sob    # Read from an asset pack\n")
		fmt.Fprintf(stderr, "  sobdump -snapshot state.cbor        # Decode a runner snapshot\n")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	g, err := vm.ParseGameID(*game)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	opts := options{game: g, tables: *tables, disasm: *disasm, source: *source, pack: *pack, snapshot: *snapshot}

	load := func(name string) ([]byte, error) { return os.ReadFile(name) }
	if opts.pack != "" {
		p, err := assets.OpenPack(opts.pack)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer p.Close()
		load = func(name string) ([]byte, error) {
			data, ok, err := p.Load(name)
			if err == nil && !ok {
				err = fmt.Errorf("%s not in %s", name, opts.pack)
			}
			return data, err
		}
	}

	code := 0
	for _, name := range fs.Args() {
		data, err := load(name)
		if err == nil {
			if opts.snapshot {
				err = dumpSnapshot(stdout, data)
			} else {
				err = dumpBlobs(stdout, data, filepath.Base(name), opts)
			}
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: %s: %v\n", name, err)
			code = 1
		}
	}
	return code
}

func dumpBlobs(w io.Writer, data []byte, name string, opts options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*vm.Fault)
			if !ok {
				panic(r)
			}
			err = f
		}
	}()
	sobs, err := vm.ReadSobs(data, name)
	if err != nil {
		return err
	}
	table, err := syscalls.NewTable(syscalls.Env{Stdout: io.Discard, Stderr: io.Discard})
	if err != nil {
		return err
	}
	for _, s := range sobs {
		fmt.Fprintf(w, "== %s: class %s\n", name, vm.LegacyText(s.RefName(1)))
		if opts.tables {
			dumpTables(w, s)
		}
		if opts.disasm {
			dumpMethods(w, &vm.Disassembler{Sob: s, Game: opts.game, Syscalls: table})
		}
		if opts.source {
			if file, text, ok := s.SourceText(); ok {
				fmt.Fprintf(w, "-- source %s\n%s", file, vm.LegacyText(text))
			} else {
				fmt.Fprintf(w, "-- no source\n")
			}
		}
	}
	return nil
}

func dumpTables(w io.Writer, s *vm.Sob) {
	fmt.Fprintf(w, "header   %v\n", s.Header)
	for _, f := range s.Frameworks {
		fmt.Fprintf(w, "parent   %s\n", vm.LegacyText(s.RefName(int32(f))))
	}
	for _, a := range s.Autoload {
		fmt.Fprintf(w, "autoload %s\n", vm.LegacyText(s.String(int32(a))))
	}
	for i := 1; i <= s.MemberCount(); i++ {
		v := s.Members[i]
		fmt.Fprintf(w, "member   %3d %-10s %d\n", i, v.Type, v.Bits)
	}
	for i := 1; i <= s.StaticCount(); i++ {
		v := s.Statics[i]
		fmt.Fprintf(w, "static   %3d %-10s %d\n", i, v.Type, v.Bits)
	}
	for i := 1; i <= s.CodeCount(); i++ {
		c := s.Codes[i]
		if c.LocalsOffset == -1 {
			fmt.Fprintf(w, "code     %3d inherited\n", i)
			continue
		}
		fmt.Fprintf(w, "code     %3d @%04x locals @%d\n", i, c.CodeOffset, c.LocalsOffset)
	}
	for i := int32(1); int(i) <= s.RefCount(); i++ {
		r := &s.Refs[i]
		owner := "self"
		if r.ClassIndex > 1 {
			owner = vm.LegacyText(s.RefName(r.ClassIndex))
		}
		fmt.Fprintf(w, "ref      %3d %-6s %-8s %-20s data %d flags 0x%x\n",
			i, r.Kind, owner, vm.LegacyText(s.RefName(i)), r.DataIndex, r.Flags)
	}
	fmt.Fprintf(w, "strings  %d, bytecode %d bytes\n", s.StringCount(), len(s.Bytecode))
}

func dumpMethods(w io.Writer, d *vm.Disassembler) {
	s := d.Sob
	for i := int32(1); int(i) <= s.RefCount(); i++ {
		r := &s.Refs[i]
		if r.Kind != vm.RefMethod || r.ClassIndex != 1 {
			continue
		}
		text, err := d.Method(i)
		if err != nil {
			fmt.Fprintf(w, "-- %s: %v\n", s.RefName(i), err)
			continue
		}
		fmt.Fprintf(w, "-- %s\n%s\n", vm.LegacyText(s.RefName(i)), text)
	}
}

func dumpSnapshot(w io.Writer, data []byte) error {
	s, err := vm.UnmarshalSnapshot(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "game %s  frame %d  clock %dms\n", s.Game, s.Frame, s.Clock)
	if s.Fault != "" {
		fmt.Fprintf(w, "fault: %s\n", s.Fault)
	}
	fmt.Fprintf(w, "objects %d  arrays %d  stack %d\n", s.Objects, s.Arrays, len(s.Stack))
	for _, c := range s.Classes {
		fmt.Fprintf(w, "class %d %s", c.Handle, c.Name)
		if c.Parent != 0 {
			fmt.Fprintf(w, " parent %d", c.Parent)
		}
		fmt.Fprintln(w)
		for i, v := range c.Statics {
			fmt.Fprintf(w, "  static %d %s %d\n", i+1, v.Type, v.Bits)
		}
	}
	for _, t := range s.Threads {
		fmt.Fprintf(w, "thread %d id %d %s", t.Handle, t.ID, t.State)
		if t.Break != 0 {
			fmt.Fprintf(w, " break %d", t.Break)
		}
		if t.Waiting != 0 {
			fmt.Fprintf(w, " waiting %d", t.Waiting)
		}
		fmt.Fprintln(w)
		for _, f := range t.Frames {
			fmt.Fprintf(w, "  %s @%04x\n", f.Class, f.PC)
		}
	}
	for _, mp := range s.Hot {
		fmt.Fprintf(w, "calls %d threads %d  %s\n", mp.Calls, mp.Threads, mp.Name)
	}
	fmt.Fprintf(w, "caches %+v\n", s.Caches)
	return nil
}
