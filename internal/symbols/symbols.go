// Package symbols stands in for key-mapper's system-wide keycode name
// table (out of scope per spec.md §1 — owned by a separate collaborator
// service). It generalizes the teacher's single-hotkey keyNameMap
// (internal/hotkey/hotkey_linux.go) into a full Resolver covering the
// evdev key/button namespace plus the DISABLE_CODE sentinel from §6.
package symbols

import (
	"fmt"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

// DisableCode is the reserved sentinel meaning "swallow this input
// silently" (§6, §9 Design Notes: "the integer remains only at the wire
// layer"). It is chosen well outside the standard evdev keycode range
// (0-767 per linux input-event-codes.h) so it can never collide with a
// real key.
const DisableCode evdev.EvCode = 0xffff

// disableSymbol is the reserved name that resolves to DisableCode.
const disableSymbol = "DISABLE_CODE"

// Resolver maps symbol names (as they appear in a Mapping's Output or a
// macro's k()/m() arguments) to evdev keycodes. A real deployment backs
// this with the full system-wide table; Default provides enough of that
// table to exercise every code path in this repo and its tests.
type Resolver interface {
	Resolve(name string) (evdev.EvCode, error)
}

// TableResolver is a Resolver backed by a static name-to-code table.
type TableResolver struct {
	table map[string]evdev.EvCode
}

// NewTableResolver builds a TableResolver. A nil or empty overrides map
// falls back to Default's table; entries in overrides take precedence,
// letting callers extend the default table without forking it.
func NewTableResolver(overrides map[string]evdev.EvCode) *TableResolver {
	table := make(map[string]evdev.EvCode, len(defaultTable)+len(overrides))
	for k, v := range defaultTable {
		table[k] = v
	}
	for k, v := range overrides {
		table[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return &TableResolver{table: table}
}

// Default returns the built-in Resolver.
func Default() *TableResolver {
	return NewTableResolver(nil)
}

// Resolve maps name to its evdev keycode. Lookup is case-insensitive and
// trims surrounding whitespace, matching KeyCodeFromName's behavior.
func (r *TableResolver) Resolve(name string) (evdev.EvCode, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	code, ok := r.table[key]
	if !ok {
		return 0, fmt.Errorf("unknown symbol: %s", name)
	}
	return code, nil
}

// IsDisable reports whether code is the disable sentinel.
func IsDisable(code evdev.EvCode) bool {
	return code == DisableCode
}

// defaultTable extends the teacher's keyNameMap with modifier, function,
// keypad and mouse-button names needed by macro bodies and Mapping
// outputs, plus the disable sentinel.
var defaultTable = map[string]evdev.EvCode{
	disableSymbol: DisableCode,

	"KEY_ESC":        1,
	"KEY_1":          2,
	"KEY_2":          3,
	"KEY_3":          4,
	"KEY_4":          5,
	"KEY_5":          6,
	"KEY_6":          7,
	"KEY_7":          8,
	"KEY_8":          9,
	"KEY_9":          10,
	"KEY_0":          11,
	"KEY_MINUS":      12,
	"KEY_EQUAL":      13,
	"KEY_BACKSPACE":  14,
	"KEY_TAB":        15,
	"KEY_Q":          16,
	"KEY_W":          17,
	"KEY_E":          18,
	"KEY_R":          19,
	"KEY_T":          20,
	"KEY_Y":          21,
	"KEY_U":          22,
	"KEY_I":          23,
	"KEY_O":          24,
	"KEY_P":          25,
	"KEY_LEFTBRACE":  26,
	"KEY_RIGHTBRACE": 27,
	"KEY_ENTER":      28,
	"KEY_LEFTCTRL":   29,
	"KEY_A":          30,
	"KEY_S":          31,
	"KEY_D":          32,
	"KEY_F":          33,
	"KEY_G":          34,
	"KEY_H":          35,
	"KEY_J":          36,
	"KEY_K":          37,
	"KEY_L":          38,
	"KEY_SEMICOLON":  39,
	"KEY_APOSTROPHE": 40,
	"KEY_GRAVE":      41,
	"KEY_LEFTSHIFT":  42,
	"KEY_BACKSLASH":  43,
	"KEY_Z":          44,
	"KEY_X":          45,
	"KEY_C":          46,
	"KEY_V":          47,
	"KEY_B":          48,
	"KEY_N":          49,
	"KEY_M":          50,
	"KEY_COMMA":      51,
	"KEY_DOT":        52,
	"KEY_SLASH":      53,
	"KEY_RIGHTSHIFT": 54,
	"KEY_KPASTERISK": 55,
	"KEY_LEFTALT":    56,
	"KEY_SPACE":      57,
	"KEY_CAPSLOCK":   58,
	"KEY_F1":         59,
	"KEY_F2":         60,
	"KEY_F3":         61,
	"KEY_F4":         62,
	"KEY_F5":         63,
	"KEY_F6":         64,
	"KEY_F7":         65,
	"KEY_F8":         66,
	"KEY_F9":         67,
	"KEY_F10":        68,
	"KEY_NUMLOCK":    69,
	"KEY_SCROLLLOCK": 70,
	"KEY_KP7":        71,
	"KEY_KP8":        72,
	"KEY_KP9":        73,
	"KEY_KPMINUS":    74,
	"KEY_KP4":        75,
	"KEY_KP5":        76,
	"KEY_KP6":        77,
	"KEY_KPPLUS":     78,
	"KEY_KP1":        79,
	"KEY_KP2":        80,
	"KEY_KP3":        81,
	"KEY_KP0":        82,
	"KEY_KPDOT":      83,
	"KEY_F11":        87,
	"KEY_F12":        88,
	"KEY_KPENTER":    96,
	"KEY_RIGHTCTRL":  97,
	"KEY_KPSLASH":    98,
	"KEY_RIGHTALT":   100,
	"KEY_HOME":       102,
	"KEY_UP":         103,
	"KEY_PAGEUP":     104,
	"KEY_LEFT":       105,
	"KEY_RIGHT":      106,
	"KEY_END":        107,
	"KEY_DOWN":       108,
	"KEY_PAGEDOWN":   109,
	"KEY_INSERT":     110,
	"KEY_DELETE":     111,
	"KEY_PAUSE":      119,
	"KEY_LEFTMETA":   125,
	"KEY_RIGHTMETA":  126,
	"KEY_COMPOSE":    127,
	"KEY_F13":        183,
	"KEY_F14":        184,
	"KEY_F15":        185,
	"KEY_F16":        186,
	"KEY_F17":        187,
	"KEY_F18":        188,
	"KEY_F19":        189,
	"KEY_F20":        190,
	"KEY_F21":        191,
	"KEY_F22":        192,
	"KEY_F23":        193,
	"KEY_F24":        194,

	"BTN_LEFT":   0x110,
	"BTN_RIGHT":  0x111,
	"BTN_MIDDLE": 0x112,
	"BTN_SIDE":   0x113,
	"BTN_EXTRA":  0x114,
}
