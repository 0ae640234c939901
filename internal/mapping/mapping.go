// Package mapping holds the injection core's data model (§3 of the
// spec): Key/sub-key tuples, the Output tagged variant, combination
// permutation expansion, and the Mapping snapshot handed to an Injector.
package mapping

import (
	"fmt"
	"strings"

	evdev "github.com/holoplot/go-evdev"

	"github.com/hixan/key-mapper/internal/evcode"
)

// SubKey is one (ev_type, code, value) triple. value is -1/+1 for
// directional inputs or +1 for standard keys.
type SubKey struct {
	Type  evdev.EvType
	Code  evdev.EvCode
	Value int32
}

func (s SubKey) String() string {
	return fmt.Sprintf("%d:%d:%d", s.Type, s.Code, s.Value)
}

// Key is an ordered tuple of one or more sub-keys. A Key with more than
// one sub-key is a combination; its last sub-key is the trigger.
type Key []SubKey

// Trigger returns the last sub-key, the one that must fire to complete
// the combination.
func (k Key) Trigger() SubKey {
	return k[len(k)-1]
}

// IsCombination reports whether k has more than one sub-key.
func (k Key) IsCombination() bool {
	return len(k) > 1
}

// id is the canonical string form of a Key, used as a map key throughout
// the injection core since Go slices are not comparable.
func (k Key) id() string {
	var b strings.Builder
	for i, s := range k {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// ID exposes the canonical string form for callers that need to index
// their own tables by Key (the tracker's unreleased/active-macro tables
// use (type,code) directly instead, see internal/tracker).
func (k Key) ID() string { return k.id() }

// Permutations returns every permutation of a combination's non-trigger
// sub-keys, each followed by the original trigger; the original ordering
// is one of them. For a single-element Key it returns just that Key.
// This is what lets combination matching collapse to an equality lookup
// regardless of the order the non-trigger keys were pressed in (§3).
func (k Key) Permutations() []Key {
	if len(k) <= 1 {
		return []Key{append(Key{}, k...)}
	}

	trigger := k[len(k)-1]
	rest := append([]SubKey{}, k[:len(k)-1]...)

	var perms []Key
	permute(rest, 0, func(p []SubKey) {
		combo := make(Key, 0, len(p)+1)
		combo = append(combo, p...)
		combo = append(combo, trigger)
		perms = append(perms, combo)
	})
	return perms
}

// permute calls emit once for every permutation of items, by swapping
// each remaining item into position k, recursing, and swapping it back.
func permute(items []SubKey, k int, emit func([]SubKey)) {
	n := len(items)
	if k == n {
		cp := make([]SubKey, n)
		copy(cp, items)
		emit(cp)
		return
	}
	for i := k; i < n; i++ {
		items[k], items[i] = items[i], items[k]
		permute(items, k+1, emit)
		items[k], items[i] = items[i], items[k]
	}
}

// OutputKind distinguishes the two shapes an Output's source text can
// take before compilation resolves it against a symbol table.
type OutputKind int

const (
	OutputLiteral OutputKind = iota
	OutputMacro
)

// Output is the tagged variant described in Design Note 9
// ("Dynamic value in Output"): either a literal target symbol name or a
// macro DSL source string. Disable is represented at this layer as an
// ordinary literal symbol (the reserved "DISABLE_CODE" name); it only
// becomes a first-class Action once compiled (see internal/tracker).
type Output struct {
	Kind        OutputKind
	Symbol      string // valid when Kind == OutputLiteral
	MacroSource string // valid when Kind == OutputMacro
}

// isMacroSource mirrors is_this_a_macro: a macro source must contain a
// balanced-looking call, i.e. both parens and a minimum length.
func isMacroSource(s string) bool {
	return strings.Contains(s, "(") && strings.Contains(s, ")") && len(s) >= 4
}

// NewOutput classifies a raw Output string from a preset into a Literal
// or Macro Output.
func NewOutput(raw string) Output {
	if isMacroSource(raw) {
		return Output{Kind: OutputMacro, MacroSource: raw}
	}
	return Output{Kind: OutputLiteral, Symbol: raw}
}

// Entry is one (Key, Output) pair as authored by the mapping editor
// (out of scope collaborator, §1).
type Entry struct {
	Key    Key
	Output Output
}

// Config holds the recognized configuration keys from §6.
type Config struct {
	KeystrokeSleepMs int

	LeftPurpose  evcode.Purpose
	RightPurpose evcode.Purpose
	PointerSpeed float64
	NonLinearity float64
	XScrollSpeed float64
	YScrollSpeed float64
}

// DefaultConfig returns the documented defaults: a 10ms keystroke pause
// and a non-linearity greater than 1 so small stick deflections produce
// no cursor drift (§4.4).
func DefaultConfig() Config {
	return Config{
		KeystrokeSleepMs: 10,
		LeftPurpose:      evcode.PurposeNone,
		RightPurpose:     evcode.PurposeNone,
		PointerSpeed:     40,
		NonLinearity:     4,
		XScrollSpeed:     1,
		YScrollSpeed:     1,
	}
}

// Mapping is a finite (Key, Output) list plus configuration, immutable
// for the lifetime of the Injector it is handed to (§3 Lifecycle).
type Mapping struct {
	Entries []Entry
	Config  Config
}
