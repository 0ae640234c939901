// Package config reads and writes the on-disk TOML snapshot of a device's
// Mapping: the recognized configuration keys from §6 of the spec plus a
// list of (Key, Output) bindings. It mirrors the teacher's
// internal/config/config.go Default/Load/Save shape, generalized from a
// single hotkey preference file to a full Mapping snapshot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	evdev "github.com/holoplot/go-evdev"

	"github.com/hixan/key-mapper/internal/evcode"
	"github.com/hixan/key-mapper/internal/mapping"
	"github.com/hixan/key-mapper/internal/symbols"
)

// MacrosConfig holds the macros.* keys from §6.
type MacrosConfig struct {
	KeystrokeSleepMs int `toml:"keystroke_sleep_ms"`
}

// JoystickConfig holds the gamepad.joystick.* keys from §6.
type JoystickConfig struct {
	LeftPurpose  string  `toml:"left_purpose"`
	RightPurpose string  `toml:"right_purpose"`
	PointerSpeed float64 `toml:"pointer_speed"`
	NonLinearity float64 `toml:"non_linearity"`
	XScrollSpeed float64 `toml:"x_scroll_speed"`
	YScrollSpeed float64 `toml:"y_scroll_speed"`
}

// GamepadConfig nests JoystickConfig under the gamepad.joystick table, per
// the dotted key names in §6.
type GamepadConfig struct {
	Joystick JoystickConfig `toml:"joystick"`
}

// SubKeyFile is the on-disk form of a mapping.SubKey: the symbol name for
// the input this sub-key fires on, plus its ev_type and trigger value.
// Using symbol names instead of raw codes keeps the snapshot readable and
// keeps magic integers out of anything but the wire layer (Design Note 9).
type SubKeyFile struct {
	Type   string `toml:"type"` // "key", "abs", or "rel"
	Symbol string `toml:"symbol"`
	Value  int32  `toml:"value"`
}

// BindingFile is the on-disk form of one mapping.Entry.
type BindingFile struct {
	Keys   []SubKeyFile `toml:"keys"`
	Output string       `toml:"output"`
}

// File is the full on-disk snapshot for one device's Mapping.
type File struct {
	Device  string        `toml:"device"`
	Macros  MacrosConfig  `toml:"macros"`
	Gamepad GamepadConfig `toml:"gamepad"`
	Binding []BindingFile `toml:"binding"`
}

// Default returns a File populated with the documented defaults from §6
// (mapping.DefaultConfig) and no bindings.
func Default() *File {
	d := mapping.DefaultConfig()
	return &File{
		Macros: MacrosConfig{KeystrokeSleepMs: d.KeystrokeSleepMs},
		Gamepad: GamepadConfig{Joystick: JoystickConfig{
			LeftPurpose:  "none",
			RightPurpose: "none",
			PointerSpeed: d.PointerSpeed,
			NonLinearity: d.NonLinearity,
			XScrollSpeed: d.XScrollSpeed,
			YScrollSpeed: d.YScrollSpeed,
		}},
	}
}

// DefaultPath returns the default config file path
// (~/.config/key-mapper/<device>.toml), mirroring DefaultPath's shape in
// the teacher's config package.
func DefaultPath(device string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "key-mapper", device+".toml")
}

// Save writes f as TOML to path, creating parent directories as needed.
// The write is atomic: data lands in a sibling temp file first, which is
// renamed into place only once fully flushed, so a crash mid-write cannot
// corrupt an existing snapshot.
func Save(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpPath, err := writeTemp(path, f)
	if err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// writeTemp encodes f into a fresh temp file alongside path and returns its
// name once the data is durably flushed. The temp file is removed on any
// failure; the caller is responsible for removing it after a failed rename.
func writeTemp(path string, f *File) (tmpPath string, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-mapper-config-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if err = toml.NewEncoder(tmp).Encode(f); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode config: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("flush temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

// Load reads the TOML snapshot at path. If the file does not exist, it
// returns Default() without error, matching the teacher's missing-file
// behavior.
func Load(path string) (*File, error) {
	f := Default()

	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(path, f); err != nil {
		return nil, err
	}
	return f, nil
}

// evTypeFromString maps a SubKeyFile's Type field to an evdev.EvType.
func evTypeFromString(s string) (evdev.EvType, error) {
	switch s {
	case "key":
		return evdev.EV_KEY, nil
	case "abs":
		return evdev.EV_ABS, nil
	case "rel":
		return evdev.EV_REL, nil
	default:
		return 0, fmt.Errorf("unknown sub-key type %q", s)
	}
}

// evTypeToString is evTypeFromString's inverse, used when round-tripping a
// Mapping back out to TOML.
func evTypeToString(t evdev.EvType) (string, error) {
	switch t {
	case evdev.EV_KEY:
		return "key", nil
	case evdev.EV_ABS:
		return "abs", nil
	case evdev.EV_REL:
		return "rel", nil
	default:
		return "", fmt.Errorf("unsupported sub-key type %d", t)
	}
}

// Compile resolves f against resolver into a mapping.Mapping ready to be
// handed to an Injector. A binding whose symbol cannot be resolved is
// dropped with an error appended to the returned error (UnknownSymbol,
// §7): compilation of the remaining bindings proceeds, matching "that
// particular mapping is dropped at compile time; other mappings proceed".
func Compile(f *File, resolver symbols.Resolver) (*mapping.Mapping, error) {
	m := &mapping.Mapping{
		Config: mapping.Config{
			KeystrokeSleepMs: f.Macros.KeystrokeSleepMs,
			LeftPurpose:      evcode.ParsePurpose(f.Gamepad.Joystick.LeftPurpose),
			RightPurpose:     evcode.ParsePurpose(f.Gamepad.Joystick.RightPurpose),
			PointerSpeed:     f.Gamepad.Joystick.PointerSpeed,
			NonLinearity:     f.Gamepad.Joystick.NonLinearity,
			XScrollSpeed:     f.Gamepad.Joystick.XScrollSpeed,
			YScrollSpeed:     f.Gamepad.Joystick.YScrollSpeed,
		},
	}

	var errs []error
	for _, b := range f.Binding {
		key, err := compileKey(b.Keys, resolver)
		if err != nil {
			errs = append(errs, fmt.Errorf("binding %v: %w", b.Keys, err))
			continue
		}
		m.Entries = append(m.Entries, mapping.Entry{Key: key, Output: mapping.NewOutput(b.Output)})
	}

	if len(errs) > 0 {
		return m, errors.Join(errs...)
	}
	return m, nil
}

func compileKey(subs []SubKeyFile, resolver symbols.Resolver) (mapping.Key, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	key := make(mapping.Key, 0, len(subs))
	for _, s := range subs {
		t, err := evTypeFromString(s.Type)
		if err != nil {
			return nil, err
		}
		code, err := resolver.Resolve(s.Symbol)
		if err != nil {
			return nil, fmt.Errorf("unknown symbol %q: %w", s.Symbol, err)
		}
		key = append(key, mapping.SubKey{Type: t, Code: code, Value: s.Value})
	}
	return key, nil
}
