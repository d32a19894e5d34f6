// Package manifest handles sauce.toml title configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/sauce/vm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "sauce.toml"

// Manifest represents a sauce.toml title configuration.
type Manifest struct {
	Game  Game      `toml:"game"`
	Video Video     `toml:"video"`
	VM    VMConfig  `toml:"vm"`
	Log   LogConfig `toml:"log"`

	// Dir is the directory containing the sauce.toml file (set at load time).
	Dir string `toml:"-"`
}

// Game names the title and where its blobs live.
type Game struct {
	Name      string   `toml:"name"`
	BootClass string   `toml:"boot-class"`
	Data      string   `toml:"data"`
	Pack      string   `toml:"pack"`
	Args      []string `toml:"args"`
}

// Video configures the host window.
type Video struct {
	Width  int  `toml:"width"`
	Height int  `toml:"height"`
	Window bool `toml:"window"`
}

// VMConfig configures the tick loop.
type VMConfig struct {
	TickMS   int `toml:"tick-ms"`
	MaxTicks int `toml:"max-ticks"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int      `toml:"verbosity"`
	File      string   `toml:"file"`
	Debug     []string `toml:"debug"`
}

// Default returns the configuration used when no sauce.toml exists.
func Default() *Manifest {
	m := &Manifest{Dir: "."}
	m.applyDefaults()
	return m
}

// Load parses a sauce.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text and applies defaults. Unknown keys are
// rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Game.Data == "" {
		m.Game.Data = "data"
	}
	if m.Game.BootClass == "" {
		m.Game.BootClass = m.Game.Name
	}
	if m.Video.Width == 0 || m.Video.Height == 0 {
		w, h := 640, 480
		if g, err := vm.ParseGameID(m.Game.Name); err == nil {
			w, h = g.DefaultScreen()
		}
		m.Video.Width, m.Video.Height = w, h
	}
	if m.VM.TickMS == 0 {
		m.VM.TickMS = 50
	}
}

// Validate checks value ranges and debug category names.
func (m *Manifest) Validate() error {
	var errs []error
	if m.Game.Name != "" {
		if _, err := vm.ParseGameID(m.Game.Name); err != nil {
			errs = append(errs, err)
		}
	}
	if m.VM.TickMS < 0 {
		errs = append(errs, fmt.Errorf("vm.tick-ms must not be negative (%d)", m.VM.TickMS))
	}
	if m.VM.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("vm.max-ticks must not be negative (%d)", m.VM.MaxTicks))
	}
	if m.Video.Width < 0 || m.Video.Height < 0 {
		errs = append(errs, fmt.Errorf("bad video size %dx%d", m.Video.Width, m.Video.Height))
	}
	for _, c := range m.Log.Debug {
		if _, ok := vm.LogCategories[c]; !ok {
			errs = append(errs, fmt.Errorf("unknown debug category %q", c))
		}
	}
	return errors.Join(errs...)
}

// FindAndLoad walks up from startDir to find a sauce.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// GameID returns the profile named by game.name.
func (m *Manifest) GameID() (vm.GameID, error) {
	if m.Game.Name == "" {
		return vm.GameAutorun, nil
	}
	return vm.ParseGameID(m.Game.Name)
}

// resolve returns p relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// DataPath returns the absolute asset directory.
func (m *Manifest) DataPath() string { return m.resolve(m.Game.Data) }

// PackPath returns the asset pack path, or "" when none is configured.
func (m *Manifest) PackPath() string { return m.resolve(m.Game.Pack) }

// LogFilePath returns the log file path, or "" for stderr.
func (m *Manifest) LogFilePath() string { return m.resolve(m.Log.File) }

// DebugLoggers returns the logger names for the configured debug
// categories.
func (m *Manifest) DebugLoggers() []string {
	var names []string
	for _, c := range m.Log.Debug {
		if name, ok := vm.LogCategories[c]; ok {
			names = append(names, name)
		}
	}
	return names
}
