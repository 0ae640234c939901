// Package tracker implements the key/combination tracker described in
// §4.2 of the spec: press/release bookkeeping, combination resolution
// via the suffix-match algorithm, duplicate suppression, and macro
// dispatch.
package tracker

import (
	"context"
	"log"

	evdev "github.com/holoplot/go-evdev"

	"github.com/hixan/key-mapper/internal/evcode"
	"github.com/hixan/key-mapper/internal/macro"
	"github.com/hixan/key-mapper/internal/mapping"
)

// Action distinguishes an ordinary emitted target from the disable
// sentinel (Design Note 9: "a first-class variant Action::Disable").
type Action int

const (
	ActionEmit Action = iota
	ActionDisable
)

// Target is what a compiled Key resolves to: either a concrete (type,
// code) to emit, or the disable sentinel.
type Target struct {
	Action Action
	Type   evdev.EvType
	Code   evdev.EvCode
}

// TypeCode is an (ev_type, code) pair, used to index the unreleased and
// active-macros tables without the value, so a release event (value 0)
// can find its entry (§3).
type TypeCode struct {
	Type evdev.EvType
	Code evdev.EvCode
}

// MacroBinding pairs a compiled macro with the emit function bound to
// this source node's virtual output (Design Note 9: the sink is supplied
// at the call site rather than mutated into the macro after
// construction).
type MacroBinding struct {
	Macro *macro.Macro
	Emit  macro.EmitFunc
}

// WriteFunc emits one (type, code, value) event. Callers are expected to
// follow it with a synchronization event before the next write from the
// same uinput (§4.2 "Ordering guarantees"); the injector's dispatch loop
// owns that, not the tracker.
type WriteFunc func(t evdev.EvType, c evdev.EvCode, v int32)

type unreleasedEntry struct {
	target Target
	origin mapping.SubKey
}

// Tracker owns the per-Injector unreleased and active-macros tables and
// the compiled key_to_code lookup (§3). It is not safe for concurrent
// use — callers (the injector's single dispatch loop) must serialize all
// calls to Handle, matching §5's "touched only by Consumer tasks" rule.
type Tracker struct {
	ctx    context.Context
	logger *log.Logger
	debug  bool

	keyToCode map[string]Target

	unreleased      map[TypeCode]unreleasedEntry
	unreleasedOrder []TypeCode

	activeMacros map[TypeCode]*MacroBinding
}

// New creates a Tracker bound to ctx (canceling ctx stops any macro
// goroutines it has started). keyToCode is the injector-wide compiled
// literal table, keyed by mapping.Key.ID() (shared by every source of
// the Injector, per injector.py's self._key_to_code).
func New(ctx context.Context, keyToCode map[string]Target, logger *log.Logger, debug bool) *Tracker {
	return &Tracker{
		ctx:          ctx,
		logger:       logger,
		debug:        debug,
		keyToCode:    keyToCode,
		unreleased:   map[TypeCode]unreleasedEntry{},
		activeMacros: map[TypeCode]*MacroBinding{},
	}
}

func (t *Tracker) logf(format string, args ...interface{}) {
	if t.debug && t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

func (t *Tracker) insertUnreleased(tc TypeCode, e unreleasedEntry) {
	if _, exists := t.unreleased[tc]; !exists {
		t.unreleasedOrder = append(t.unreleasedOrder, tc)
	}
	t.unreleased[tc] = e
}

func (t *Tracker) deleteUnreleased(tc TypeCode) {
	delete(t.unreleased, tc)
	for i, v := range t.unreleasedOrder {
		if v == tc {
			t.unreleasedOrder = append(t.unreleasedOrder[:i], t.unreleasedOrder[i+1:]...)
			break
		}
	}
}

// combination returns the current combination candidate: the originating
// down-events still in unreleased, in insertion order, with the current
// event's sub-key appended last (§4.2 step 2).
func (t *Tracker) combination(current mapping.SubKey) []mapping.SubKey {
	combo := make([]mapping.SubKey, 0, len(t.unreleasedOrder)+1)
	for _, tc := range t.unreleasedOrder {
		combo = append(combo, t.unreleased[tc].origin)
	}
	combo = append(combo, current)
	return combo
}

// resolveKey finds the effective Key to look up for the given current
// sub-key, by searching subsets of the non-trigger candidates from
// longest to shortest (the suffix-match algorithm chosen in the spec's
// Open Questions over the dependency-graph alternative). macros and
// keyToCode are both consulted; the first subset present in either table
// wins.
func (t *Tracker) resolveKey(nonTrigger []mapping.SubKey, trigger mapping.SubKey, macros map[string]*MacroBinding) mapping.Key {
	n := len(nonTrigger)
	for size := n; size >= 1; size-- {
		found := false
		var result mapping.Key
		forEachCombination(nonTrigger, size, func(chosen []mapping.SubKey) bool {
			candidate := make(mapping.Key, 0, size+1)
			candidate = append(candidate, chosen...)
			candidate = append(candidate, trigger)
			id := candidate.ID()
			if _, ok := macros[id]; ok {
				result, found = candidate, true
				return false
			}
			if _, ok := t.keyToCode[id]; ok {
				result, found = candidate, true
				return false
			}
			return true
		})
		if found {
			return result
		}
	}
	return mapping.Key{trigger}
}

// forEachCombination calls visit once for every size-length subset of
// items, preserving relative order, in lexicographic index order,
// stopping early if visit returns false.
func forEachCombination(items []mapping.SubKey, size int, visit func([]mapping.SubKey) bool) {
	n := len(items)
	if size == 0 || size > n {
		return
	}
	idx := make([]int, size)
	for i := range idx {
		idx[i] = i
	}
	for {
		chosen := make([]mapping.SubKey, size)
		for i, v := range idx {
			chosen[i] = items[v]
		}
		if !visit(chosen) {
			return
		}

		i := size - 1
		for i >= 0 && idx[i] == n-size+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < size; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// Handle processes one classified, normalized event (§4.2). macros is
// the source-specific compiled macro table (macro instances are bound to
// this source's virtual output); write emits mapped or forwarded events
// to that same output.
func (t *Tracker) Handle(ev evcode.Event, macros map[string]*MacroBinding, write WriteFunc) {
	if ev.Type == evdev.EV_KEY && ev.Value == 2 {
		// button-hold repeat; the virtual device's own driver re-creates
		// these, no need to forward or map them (§4.2 step 1).
		return
	}

	current := mapping.SubKey{Type: ev.Type, Code: ev.Code, Value: ev.Value}
	tc := TypeCode{Type: ev.Type, Code: ev.Code}

	combo := t.combination(current)
	var effective mapping.Key
	if len(combo) > 1 {
		effective = t.resolveKey(combo[:len(combo)-1], current, macros)
	} else {
		effective = mapping.Key{current}
	}
	effectiveID := effective.ID()

	if ev.Value == 1 && len(combo) > 1 && len(effective) == 1 {
		t.logf("%v unknown combination", combo)
	}

	if ev.Value == 0 {
		if am, ok := t.activeMacros[tc]; ok && am.Macro.Holding() {
			am.Macro.ReleaseKey()
			t.logf("%v releasing macro", tc)
		}

		if entry, ok := t.unreleased[tc]; ok {
			t.deleteUnreleased(tc)
			if entry.target.Action == ActionDisable {
				t.logf("%v releasing disabled key", tc)
			} else {
				t.logf("%v releasing %d", tc, entry.target.Code)
				write(entry.target.Type, entry.target.Code, 0)
			}
		} else if ev.Type != evdev.EV_ABS {
			t.logf("%v unexpected key up", tc)
		}
		return
	}

	// Duplicate-down suppression: avoid writing a flood of key-downs for
	// a continuously-reporting trigger (§4.2 step 4).
	if _, mapped := t.keyToCode[effectiveID]; mapped {
		if _, already := t.unreleased[tc]; already {
			t.logf("%v duplicate key down", tc)
			return
		}
	}

	// Macro already running: don't spawn a second instance (§4.2 step 5).
	if mb, isMacro := macros[effectiveID]; isMacro {
		if mb.Macro.Running() {
			t.logf("%v macro already running", tc)
			return
		}
	}

	if mb, isMacro := macros[effectiveID]; isMacro {
		t.activeMacros[tc] = mb
		mb.Macro.PressKey()
		t.logf("%v maps to macro %s", tc, mb.Macro.Source())
		go func() {
			_ = mb.Macro.Run(t.ctx, mb.Emit)
		}()
		return
	}

	if target, mapped := t.keyToCode[effectiveID]; mapped {
		t.insertUnreleased(tc, unreleasedEntry{target: target, origin: current})
		if target.Action == ActionDisable {
			t.logf("%v disabled", tc)
			return
		}
		t.logf("%v maps to %d", tc, target.Code)
		write(evdev.EV_KEY, target.Code, 1)
		return
	}

	t.logf("%v forwarding", tc)
	t.insertUnreleased(tc, unreleasedEntry{target: Target{Action: ActionEmit, Type: ev.Type, Code: ev.Code}, origin: current})
	write(ev.Type, ev.Code, ev.Value)
}

// Unreleased reports whether (t,c) currently has an unresolved down-edge.
func (t *Tracker) Unreleased(tc TypeCode) bool {
	_, ok := t.unreleased[tc]
	return ok
}
