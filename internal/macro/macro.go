// Package macro compiles and runs the key-mapper macro DSL described in
// §4.3 of the spec: k(name), w(ms), r(n, body), m(mod, body), h(body),
// chained with '.'.
package macro

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/hixan/key-mapper/internal/symbols"
)

// EmitFunc is the sink a running macro writes key events to. It is the
// Go analogue of _Macro.set_handler's injected function pointer (Design
// Note 9): passed at the Run call site instead of mutated into the
// instance after construction.
type EmitFunc func(code evdev.EvCode, value int32)

// stepKind labels a compiled step for logging/introspection; execution
// itself is driven by the step's run closure.
type stepKind int

const (
	stepModifier stepKind = iota
	stepKeystroke
	stepSleep
	stepChildMacro
	stepRepeatWhileHolding
)

type step struct {
	kind stepKind
	run  func(ctx context.Context, emit EmitFunc) error
}

// Macro is a compiled macro program. It doubles as the runtime instance:
// like the original's _Macro, the AST and the per-trigger mutable state
// (holding/running) live in the same object, reused across repeated
// triggers of the same Key.
type Macro struct {
	source string
	sleep  time.Duration

	tasks        []step
	capabilities map[evdev.EvCode]bool
	children     []*Macro

	holding atomic.Bool
	running atomic.Bool
}

// Source returns the original macro DSL text, for logging.
func (m *Macro) Source() string { return m.source }

// Capabilities resolves all target keycodes the macro may emit,
// including through child macros reached via m()/r()/h() (§4.3
// "Compilation").
func (m *Macro) Capabilities() map[evdev.EvCode]bool {
	result := make(map[evdev.EvCode]bool, len(m.capabilities))
	for c := range m.capabilities {
		result[c] = true
	}
	for _, child := range m.children {
		for c := range child.Capabilities() {
			result[c] = true
		}
	}
	return result
}

// Holding reports whether the triggering key is currently held down.
func (m *Macro) Holding() bool { return m.holding.Load() }

// Running reports whether the macro is currently executing.
func (m *Macro) Running() bool { return m.running.Load() }

// PressKey notifies the macro (and its children) that the triggering key
// went down.
func (m *Macro) PressKey() {
	m.holding.Store(true)
	for _, c := range m.children {
		c.PressKey()
	}
}

// ReleaseKey notifies the macro (and its children) that the triggering
// key went up. h() loops consult Holding() to decide whether to continue.
func (m *Macro) ReleaseKey() {
	m.holding.Store(false)
	for _, c := range m.children {
		c.ReleaseKey()
	}
}

// Run executes every step in sequence, emitting key events through emit.
// It sets Running() for the duration, clearing it on any exit path
// (§4.3 "a running macro sets running=true at entry and clears it at
// natural exit"). Run is meant to be launched with `go`, mirroring
// asyncio.ensure_future(macro.run()): the caller keeps dispatching other
// events while the macro's sleeps elapse.
func (m *Macro) Run(ctx context.Context, emit EmitFunc) error {
	m.running.Store(true)
	defer m.running.Store(false)

	for _, t := range m.tasks {
		if err := t.run(ctx, emit); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func newMacro(source string, sleep time.Duration) *Macro {
	return &Macro{
		source:       source,
		sleep:        sleep,
		capabilities: map[evdev.EvCode]bool{},
	}
}

func (m *Macro) addPause() {
	sleep := m.sleep
	m.tasks = append(m.tasks, step{kind: stepSleep, run: func(ctx context.Context, _ EmitFunc) error {
		return sleepCtx(ctx, sleep)
	}})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keycode appends a press/pause/release/pause sequence for a named key.
func (m *Macro) keycode(resolver symbols.Resolver, name string) error {
	code, err := resolver.Resolve(name)
	if err != nil {
		return fmt.Errorf("unknown key %q: %w", name, err)
	}
	m.capabilities[code] = true

	m.tasks = append(m.tasks, step{kind: stepKeystroke, run: func(_ context.Context, emit EmitFunc) error {
		emit(code, 1)
		return nil
	}})
	m.addPause()
	m.tasks = append(m.tasks, step{kind: stepKeystroke, run: func(_ context.Context, emit EmitFunc) error {
		emit(code, 0)
		return nil
	}})
	m.addPause()
	return nil
}

// modify appends press-modifier / run body / release-modifier, each
// separated by a keystroke pause.
func (m *Macro) modify(resolver symbols.Resolver, modifier string, body *Macro) error {
	code, err := resolver.Resolve(modifier)
	if err != nil {
		return fmt.Errorf("unknown modifier %q: %w", modifier, err)
	}
	m.capabilities[code] = true
	m.children = append(m.children, body)

	m.tasks = append(m.tasks, step{kind: stepModifier, run: func(_ context.Context, emit EmitFunc) error {
		emit(code, 1)
		return nil
	}})
	m.addPause()
	m.tasks = append(m.tasks, step{kind: stepChildMacro, run: func(ctx context.Context, emit EmitFunc) error {
		return body.Run(ctx, emit)
	}})
	m.addPause()
	m.tasks = append(m.tasks, step{kind: stepModifier, run: func(_ context.Context, emit EmitFunc) error {
		emit(code, 0)
		return nil
	}})
	m.addPause()
	return nil
}

// repeat appends n copies of body.Run, eagerly expanded at compile time
// just as the original does.
func (m *Macro) repeat(times int, body *Macro) error {
	if times < 0 {
		return fmt.Errorf("repeat count must not be negative: %d", times)
	}
	m.children = append(m.children, body)
	for i := 0; i < times; i++ {
		m.tasks = append(m.tasks, step{kind: stepChildMacro, run: func(ctx context.Context, emit EmitFunc) error {
			return body.Run(ctx, emit)
		}})
	}
	return nil
}

// hold loops body while the triggering key remains held.
func (m *Macro) hold(body *Macro) {
	m.children = append(m.children, body)
	m.tasks = append(m.tasks, step{kind: stepRepeatWhileHolding, run: func(ctx context.Context, emit EmitFunc) error {
		for m.Holding() {
			if err := body.Run(ctx, emit); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	}})
}

// wait appends a single sleep of the given number of milliseconds.
func (m *Macro) wait(ms int) {
	d := time.Duration(ms) * time.Millisecond
	m.tasks = append(m.tasks, step{kind: stepSleep, run: func(ctx context.Context, _ EmitFunc) error {
		return sleepCtx(ctx, d)
	}})
}

var callRe = regexp.MustCompile(`(?i)^([a-zA-Z]\w*)\(`)

// Parse compiles macro DSL source into a ready-to-run Macro. Whitespace
// is stripped and quotes are removed before parsing (§4.3).
func Parse(source string, resolver symbols.Resolver, keystrokeSleepMs int) (*Macro, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, source)
	cleaned = strings.NewReplacer(`"`, "", `'`, "").Replace(cleaned)

	sleep := time.Duration(keystrokeSleepMs) * time.Millisecond
	root := newMacro(source, sleep)

	if _, err := parseChain(cleaned, resolver, sleep, root); err != nil {
		return nil, fmt.Errorf("failed to parse macro %q: %w", source, err)
	}
	return root, nil
}

// parseChain parses a '.'-joined sequence of calls into m, or — if s does
// not start with a call — returns a nil macro and no error, signaling the
// caller to use s as a terminal parameter.
func parseChain(s string, resolver symbols.Resolver, sleep time.Duration, m *Macro) (*Macro, error) {
	match := callRe.FindStringSubmatchIndex(s)
	if match == nil {
		// terminal parameter, not a call: caller uses s as-is.
		return nil, nil
	}

	name := strings.ToLower(s[match[2]:match[3]])
	openParen := match[1] - 1 // index of '('

	closeParen, err := matchingParen(s, openParen)
	if err != nil {
		return nil, err
	}

	inner := s[openParen+1 : closeParen]
	rawParams := splitParams(inner)

	if m == nil {
		m = newMacro(s, sleep)
	}

	if err := applyCall(m, name, rawParams, resolver, sleep); err != nil {
		return nil, err
	}

	rest := s[closeParen+1:]
	if strings.HasPrefix(rest, ".") {
		if _, err := parseChain(rest[1:], resolver, sleep, m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// parseParamMacro parses a single parameter as a nested macro call; it
// returns (nil, rawTrimmed, nil) if the parameter is a terminal value
// rather than a call.
func parseParamMacro(raw string, resolver symbols.Resolver, sleep time.Duration) (*Macro, string, error) {
	child, err := parseChain(raw, resolver, sleep, nil)
	if err != nil {
		return nil, "", err
	}
	if child == nil {
		return nil, raw, nil
	}
	return child, "", nil
}

func applyCall(m *Macro, name string, rawParams []string, resolver symbols.Resolver, sleep time.Duration) error {
	switch name {
	case "k":
		if len(rawParams) != 1 {
			return fmt.Errorf("k takes 1 parameter, not %d", len(rawParams))
		}
		return m.keycode(resolver, rawParams[0])

	case "w":
		if len(rawParams) != 1 {
			return fmt.Errorf("w takes 1 parameter, not %d", len(rawParams))
		}
		ms, err := strconv.Atoi(rawParams[0])
		if err != nil {
			return fmt.Errorf("expected a number for w, got %q", rawParams[0])
		}
		m.wait(ms)
		return nil

	case "r":
		if len(rawParams) != 2 {
			return fmt.Errorf("r takes 2 parameters, not %d", len(rawParams))
		}
		times, err := strconv.Atoi(rawParams[0])
		if err != nil {
			return fmt.Errorf("expected a number for r's first parameter, got %q", rawParams[0])
		}
		body, _, err := parseParamMacro(rawParams[1], resolver, sleep)
		if err != nil {
			return err
		}
		if body == nil {
			return fmt.Errorf("expected a macro for r's second parameter, got %q", rawParams[1])
		}
		return m.repeat(times, body)

	case "m":
		if len(rawParams) != 2 {
			return fmt.Errorf("m takes 2 parameters, not %d", len(rawParams))
		}
		body, _, err := parseParamMacro(rawParams[1], resolver, sleep)
		if err != nil {
			return err
		}
		if body == nil {
			return fmt.Errorf("expected a macro for m's second parameter, got %q", rawParams[1])
		}
		return m.modify(resolver, rawParams[0], body)

	case "h":
		if len(rawParams) != 1 {
			return fmt.Errorf("h takes 1 parameter, not %d", len(rawParams))
		}
		body, _, err := parseParamMacro(rawParams[0], resolver, sleep)
		if err != nil {
			return err
		}
		if body == nil {
			return fmt.Errorf("expected a macro for h's parameter, got %q", rawParams[0])
		}
		m.hold(body)
		return nil

	default:
		return fmt.Errorf("unknown function %q", name)
	}
}

// matchingParen returns the index of the ')' that closes the '(' at
// open, accounting for nesting.
func matchingParen(s string, open int) (int, error) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced brackets in %q", s)
}

// splitParams splits the contents between a call's parens on top-level
// commas, respecting nested parens (mirrors _extract_params).
func splitParams(inner string) []string {
	var params []string
	depth := 0
	start := 0
	for i, r := range inner {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				params = append(params, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	params = append(params, strings.TrimSpace(inner[start:]))
	return params
}
