// sauce runs a title: it loads the class blobs, boots the main class and
// drives the scheduler until every thread has finished.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/chazu/sauce/assets"
	"github.com/chazu/sauce/host"
	"github.com/chazu/sauce/manifest"
	"github.com/chazu/sauce/syscalls"
	"github.com/chazu/sauce/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/term"
)

var log = commonlog.GetLogger("sauce")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// config is the manifest merged with the command line.
type config struct {
	*manifest.Manifest
	snapshot  string
	noConsole bool
	profile   int
}

func parseArgs(args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet("sauce", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("C", ".", "Directory to search for sauce.toml")
	game := fs.String("game", "", "Title profile (e.g. mooptreasure)")
	boot := fs.String("boot", "", "Boot class (default: the title name)")
	data := fs.String("data", "", "Directory holding the .sob files")
	pack := fs.String("pack", "", "SQLite asset pack to load blobs from")
	window := fs.Bool("window", false, "Open a window instead of running headless")
	tick := fs.Int("tick", 0, "Milliseconds between scheduler ticks")
	maxTicks := fs.Int("max-ticks", 0, "Stop after this many ticks (0: run until done)")
	verbosity := fs.Int("v", 0, "Log verbosity (-4 silent .. 2 debug)")
	logFile := fs.String("log", "", "Log to this file instead of stderr")
	debug := fs.String("debug", "", "Comma-separated categories to trace: "+categoryList())
	snapshot := fs.String("snapshot", "", "Write a CBOR state snapshot here on exit")
	noConsole := fs.Bool("no-console", false, "Do not read keys from the terminal")
	profile := fs.Int("profile", 0, "Print the N most invoked methods on exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: sauce [options] [script args...]\n\n")
		fmt.Fprintf(stderr, "Boots a title from its .sob class files. Settings come from the nearest\n")
		fmt.Fprintf(stderr, "sauce.toml; flags override them.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  sauce -game mooptreasure -data ./data     # Run headless\n")
		fmt.Fprintf(stderr, "  sauce -C ~/games/moop -window             # Use ~/games/moop/sauce.toml\n")
		fmt.Fprintf(stderr, "  sauce -debug vm,syscalls -v 2 -max-ticks 100\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
		m.Dir = *dir
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["game"] {
		if m.Game.BootClass == m.Game.Name {
			m.Game.BootClass = ""
		}
		m.Game.Name = *game
	}
	if set["boot"] {
		m.Game.BootClass = *boot
	}
	if m.Game.BootClass == "" {
		m.Game.BootClass = m.Game.Name
	}
	if set["data"] {
		m.Game.Data = *data
	}
	if set["pack"] {
		m.Game.Pack = *pack
	}
	if set["window"] {
		m.Video.Window = *window
	}
	if set["tick"] {
		m.VM.TickMS = *tick
	}
	if set["max-ticks"] {
		m.VM.MaxTicks = *maxTicks
	}
	if set["v"] {
		m.Log.Verbosity = *verbosity
	}
	if set["log"] {
		m.Log.File = *logFile
	}
	if set["debug"] {
		m.Log.Debug = splitList(*debug)
	}
	if fs.NArg() > 0 {
		m.Game.Args = fs.Args()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Game.BootClass == "" {
		return nil, errors.New("no boot class: set -game or -boot, or game.name in sauce.toml")
	}
	return &config{Manifest: m, snapshot: *snapshot, noConsole: *noConsole, profile: *profile}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func categoryList() string {
	var names []string
	for c := range vm.LogCategories {
		names = append(names, c)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func configureLogging(cfg *config) {
	commonlog.Initialize(cfg.Log.Verbosity, cfg.LogFilePath())
	for _, name := range cfg.DebugLoggers() {
		commonlog.SetMaxLevel(commonlog.Debug, strings.Split(name, ".")...)
	}
}

// openSource returns the blob source for cfg and a function releasing it.
func openSource(cfg *config) (vm.BlobSource, func(), error) {
	dir := assets.NewDirSource(cfg.DataPath())
	if cfg.PackPath() == "" {
		return dir, func() {}, nil
	}
	pack, err := assets.OpenPack(cfg.PackPath())
	if err != nil {
		return nil, nil, err
	}
	return assets.Chain{pack, dir}, func() { pack.Close() }, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	configureLogging(cfg)

	game, _ := cfg.GameID()
	src, release, err := openSource(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer release()

	m := vm.New(vm.Options{Source: src, Game: game})
	h := host.New(m, host.Options{
		Tick:     time.Duration(cfg.VM.TickMS) * time.Millisecond,
		MaxTicks: cfg.VM.MaxTicks,
	})
	table, err := syscalls.NewTable(syscalls.Env{Stdout: stdout, Stderr: stderr, Keys: h.Keys()})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	m.Syscalls = table
	if cfg.profile > 0 {
		m.Profiler = vm.NewProfiler()
	}

	log.Infof("booting %s (%s) from %s", cfg.Game.BootClass, game, cfg.DataPath())
	err = m.RunMainBoot(cfg.Game.BootClass, cfg.Game.Args)
	if err == nil {
		err = drive(cfg, h, stdin)
	}
	return finish(cfg, m, err, stderr)
}

// drive runs the tick loop in a window or headless.
func drive(cfg *config, h *host.Host, stdin io.Reader) error {
	if cfg.Video.Window {
		return h.RunWindow(host.WindowOptions{
			Width:  cfg.Video.Width,
			Height: cfg.Video.Height,
			Title:  cfg.Game.Name,
		})
	}

	if !cfg.noConsole && isTerminal(stdin) {
		c := host.NewConsole(stdin, h.Keys())
		if err := c.Start(); err != nil {
			log.Warningf("console input disabled: %s", err)
		} else {
			defer c.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := h.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Notice("interrupted")
		return nil
	}
	return err
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// finish writes the snapshot, reports err and picks the exit code.
func finish(cfg *config, m *vm.VM, err error, stderr io.Writer) int {
	code := 0
	var q *vm.QuitError
	switch {
	case err == nil:
	case errors.As(err, &q):
		code = int(q.Code)
		err = nil
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		code = 1
	}

	if m.Profiler != nil {
		printProfile(stderr, m.Profiler, cfg.profile)
	}
	if cfg.snapshot != "" {
		if werr := writeSnapshot(cfg.snapshot, m, err); werr != nil {
			fmt.Fprintf(stderr, "Error writing snapshot: %v\n", werr)
			if code == 0 {
				code = 1
			}
		}
	}
	return code
}

func writeSnapshot(path string, m *vm.VM, cause error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.WriteSnapshot(f, cause); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printProfile(w io.Writer, p *vm.Profiler, n int) {
	stats := p.Stats()
	fmt.Fprintf(w, "%d methods, %d calls, %d thread starts\n", stats.Methods, stats.Calls, stats.Threads)
	for _, mp := range p.Top(n) {
		hot := ""
		if mp.Hot {
			hot = "  hot"
		}
		fmt.Fprintf(w, "%10d %8d  %s%s\n", mp.Calls, mp.Threads, mp.Name, hot)
	}
}
