// Package injector implements the per-hardware-device supervisor
// described in §4.6 of the spec: grabbing source nodes with retry,
// synthesizing virtual output capabilities, and orchestrating the
// Consumer/Producer/Control tasks that share one Injector's Tracker.
package injector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/hixan/key-mapper/internal/evcode"
	"github.com/hixan/key-mapper/internal/joystick"
	"github.com/hixan/key-mapper/internal/macro"
	"github.com/hixan/key-mapper/internal/mapping"
	"github.com/hixan/key-mapper/internal/symbols"
	"github.com/hixan/key-mapper/internal/tracker"
)

const (
	grabAttempts      = 4
	grabInterval      = 500 * time.Millisecond
	wheelReleaseTicks = 3
)

// Device is the subset of *evdev.InputDevice a source node needs. It is
// an interface so tests can substitute a fake without a real kernel
// device, the same shape as the teacher's Listener abstraction
// (internal/hotkey/listener.go).
type Device interface {
	ReadOne() (*evdev.InputEvent, error)
	Close() error
	Grab() error
	CapableTypes() []evdev.EvType
	CapableEvents(t evdev.EvType) []evdev.EvCode
	AbsInfo(code evdev.EvCode) (min, max int32, ok bool)
}

// Output is the subset of a virtual uinput device a source node writes
// events to.
type Output interface {
	WriteOne(e *evdev.InputEvent) error
	Close() error
}

// OpenFunc opens a real source device; CreateFunc creates its virtual
// output. Both are overridable for testing.
type OpenFunc func(path string) (Device, error)
type CreateFunc func(name string, caps map[evdev.EvType][]evdev.EvCode) (Output, error)

// source is one grabbed input node plus its synthesized virtual output.
type source struct {
	path       string
	device     Device
	output     Output
	macros     map[string]*tracker.MacroBinding
	isJoystick bool
}

func (s *source) write(t evdev.EvType, c evdev.EvCode, v int32) {
	_ = s.output.WriteOne(&evdev.InputEvent{Type: t, Code: c, Value: v})
	_ = s.output.WriteOne(&evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT, Value: 0})
}

// Injector is the per-hardware-device supervisor. An Injector executes
// exactly once (§3 Lifecycle): Start after Start or after Stop is
// rejected.
type Injector struct {
	name     string
	paths    []string
	resolver symbols.Resolver
	config   mapping.Config
	logger   *log.Logger
	debug    bool

	open   OpenFunc
	create CreateFunc

	keyToCode     map[string]tracker.Target
	macroPrograms map[string]*macro.Macro
	keys          []mapping.Key

	tracker  *tracker.Tracker
	producer *joystick.Producer
	debounce *Debounce
	sources  []*source
	closeOne sync.Once

	ctx     context.Context
	cancel  context.CancelFunc
	control chan string
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

type fanIn struct {
	src *source
	ev  evcode.Event
}

// New compiles m against resolver (§3 "pre-compiled into two lookup
// tables") and constructs an Injector for the hardware device exposing
// the given source node paths. name identifies the device in the virtual
// output's name ("key-mapper <name>", §6).
func New(name string, paths []string, m *mapping.Mapping, resolver symbols.Resolver, logger *log.Logger, debug bool) (*Injector, error) {
	keyToCode, macroPrograms, err := compile(m, resolver)
	if err != nil && len(keyToCode) == 0 && len(macroPrograms) == 0 {
		return nil, err
	}

	keys := make([]mapping.Key, 0, len(m.Entries))
	for _, entry := range m.Entries {
		keys = append(keys, entry.Key)
	}

	inj := &Injector{
		name:          name,
		paths:         paths,
		resolver:      resolver,
		config:        m.Config,
		logger:        logger,
		debug:         debug,
		open:          defaultOpen,
		create:        defaultCreate,
		keyToCode:     keyToCode,
		macroPrograms: macroPrograms,
		keys:          keys,
		control:       make(chan string, 1),
		debounce:      NewDebounce(),
	}
	if err != nil {
		inj.logf("mapping compiled with errors: %v", err)
	}
	return inj, nil
}

func (inj *Injector) logf(format string, args ...interface{}) {
	if inj.logger != nil {
		inj.logger.Printf(format, args...)
	}
}

// compile resolves every mapping entry into the key_to_code/macros
// lookup tables, expanding each combination's permutations (§3). A
// binding whose symbol or macro source fails to resolve is dropped
// (UnknownSymbol/ParseError, §7); the rest still compile, and the first
// error encountered is returned for the caller to log.
func compile(m *mapping.Mapping, resolver symbols.Resolver) (map[string]tracker.Target, map[string]*macro.Macro, error) {
	keyToCode := map[string]tracker.Target{}
	macros := map[string]*macro.Macro{}
	var firstErr error

	for _, entry := range m.Entries {
		switch entry.Output.Kind {
		case mapping.OutputLiteral:
			code, err := resolver.Resolve(entry.Output.Symbol)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("unknown symbol %q: %w", entry.Output.Symbol, err)
				}
				continue
			}
			target := tracker.Target{Action: tracker.ActionEmit, Type: evdev.EV_KEY, Code: code}
			if symbols.IsDisable(code) {
				target = tracker.Target{Action: tracker.ActionDisable}
			}
			for _, perm := range entry.Key.Permutations() {
				keyToCode[perm.ID()] = target
			}

		case mapping.OutputMacro:
			prog, err := macro.Parse(entry.Output.MacroSource, resolver, m.Config.KeystrokeSleepMs)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			for _, perm := range entry.Key.Permutations() {
				macros[perm.ID()] = prog
			}
		}
	}

	return keyToCode, macros, firstErr
}

// Start grabs every candidate source node (§4.6 grab protocol), builds
// their virtual outputs, and launches the Consumer/Producer/Control
// tasks. It blocks until Stop is called or ctx is canceled; the end of
// every Consumer task alone does not make it return.
func (inj *Injector) Start(ctx context.Context) error {
	inj.mu.Lock()
	if inj.started {
		inj.mu.Unlock()
		return fmt.Errorf("injector %s: already started", inj.name)
	}
	if inj.stopped {
		inj.mu.Unlock()
		return fmt.Errorf("injector %s: cannot restart a stopped injector", inj.name)
	}
	inj.started = true
	inj.mu.Unlock()

	inj.ctx, inj.cancel = context.WithCancel(ctx)

	numlockBefore, haveNumlock := isNumlockOn()

	sources := inj.grabAll()
	if len(sources) == 0 {
		inj.cancel()
		if len(inj.paths) > 0 {
			return fmt.Errorf("injector %s: failed to grab any of %d source node(s)", inj.name, len(inj.paths))
		}
		return nil
	}

	if haveNumlock {
		setNumlock(numlockBefore)
	}

	inj.tracker = tracker.New(inj.ctx, inj.keyToCode, inj.logger, inj.debug)
	inj.producer = joystick.New(joystick.Config{
		LeftPurpose:  inj.config.LeftPurpose,
		RightPurpose: inj.config.RightPurpose,
		PointerSpeed: inj.config.PointerSpeed,
		NonLinearity: inj.config.NonLinearity,
		XScrollSpeed: inj.config.XScrollSpeed,
		YScrollSpeed: inj.config.YScrollSpeed,
	})

	var joystickSource *source
	for _, s := range sources {
		s.macros = inj.bindMacros(s)
		if hasJoystickAxes(s.device) && inj.producer.Active() {
			s.isJoystick = true
			joystickSource = s
			if min, max, ok := s.device.AbsInfo(evdev.ABS_X); ok {
				inj.producer.SetMaxAbs(maxMagnitude(min, max))
			}
		}
	}

	inj.sources = sources

	fanin := make(chan fanIn, 64)
	for _, s := range sources {
		inj.wg.Add(1)
		go inj.readLoop(s, fanin)
	}

	if joystickSource != nil {
		inj.wg.Add(1)
		go func() {
			defer inj.wg.Done()
			inj.producer.Run(inj.ctx, func(t evdev.EvType, c evdev.EvCode, v int32) {
				joystickSource.write(t, c, v)
			})
		}()
	}

	inj.wg.Add(1)
	go inj.dispatchLoop(fanin)

	inj.wg.Wait()

	if haveNumlock {
		setNumlock(numlockBefore)
	}
	for _, s := range sources {
		_ = s.output.Close()
	}

	inj.mu.Lock()
	inj.stopped = true
	inj.mu.Unlock()
	return nil
}

// Stop requests an orderly shutdown via the control channel (§4.6
// "Control channel"). It never blocks: it queues a CLOSE message on the
// control channel, which holds one message, and a call made while a
// message is already queued is dropped.
func (inj *Injector) Stop() {
	select {
	case inj.control <- "CLOSE":
	default:
	}
}

func maxMagnitude(min, max int32) int32 {
	if -min > max {
		return -min
	}
	return max
}

func hasJoystickAxes(d Device) bool {
	for _, c := range d.CapableEvents(evdev.EV_ABS) {
		if c == evdev.ABS_X || c == evdev.ABS_Y || c == evdev.ABS_RX || c == evdev.ABS_RY {
			return true
		}
	}
	return false
}

// bindMacros instantiates this source's macro bindings, closing each
// compiled program's emit function over this source's own virtual output
// (Design Note 9: the sink is supplied at the call site, not mutated into
// the macro).
func (inj *Injector) bindMacros(s *source) map[string]*tracker.MacroBinding {
	bound := make(map[string]*tracker.MacroBinding, len(inj.macroPrograms))
	for id, prog := range inj.macroPrograms {
		prog := prog
		bound[id] = &tracker.MacroBinding{
			Macro: prog,
			Emit: func(code evdev.EvCode, value int32) {
				s.write(evdev.EV_KEY, code, value)
			},
		}
	}
	return bound
}

// needsGrab reports whether dev carries any capability the mapping
// actually references — any sub-key's (type, code) among dev's capable
// events, or a joystick axis dev exposes while a stick purpose is
// configured to emulate mouse/wheel/button output (§4.6, grounded on
// _prepare_device's `needed`/`abs_to_rel` check in injector.py). Devices
// with no overlap are left ungrabbed entirely, matching
// "No need to grab %s".
func (inj *Injector) needsGrab(dev Device) bool {
	for _, key := range inj.keys {
		for _, sub := range key {
			for _, code := range dev.CapableEvents(sub.Type) {
				if code == sub.Code {
					return true
				}
			}
		}
	}
	if hasJoystickAxes(dev) && inj.joystickConfigured() {
		return true
	}
	return false
}

func (inj *Injector) joystickConfigured() bool {
	return inj.config.LeftPurpose != evcode.PurposeNone || inj.config.RightPurpose != evcode.PurposeNone
}

// grabAll attempts an exclusive grab on every candidate source path whose
// capabilities the mapping actually needs, up to grabAttempts tries
// spaced grabInterval apart (§4.6). A path with no overlapping
// capability is opened just long enough to inspect and then left
// ungrabbed (performance note in injector.py's _prepare_device); a path
// that needs grabbing but never succeeds is skipped with a logged error.
// Neither case is fatal to the Injector as a whole.
func (inj *Injector) grabAll() []*source {
	var sources []*source
	for _, path := range inj.paths {
		dev, err := inj.open(path)
		if err != nil {
			inj.logf("injector %s: open %s: %v", inj.name, path, err)
			continue
		}

		if !inj.needsGrab(dev) {
			inj.logf("injector %s: no need to grab %s", inj.name, path)
			_ = dev.Close()
			continue
		}

		grabbed := false
		for attempt := 0; attempt < grabAttempts; attempt++ {
			if err := dev.Grab(); err == nil {
				grabbed = true
				break
			}
			time.Sleep(grabInterval)
		}
		if !grabbed {
			inj.logf("injector %s: failed to grab %s after %d attempts", inj.name, path, grabAttempts)
			_ = dev.Close()
			continue
		}

		emulating := hasJoystickAxes(dev) && joystick.New(joystick.Config{
			LeftPurpose:  inj.config.LeftPurpose,
			RightPurpose: inj.config.RightPurpose,
		}).Active()
		caps := synthesizeCapabilities(dev, inj.keyToCode, inj.unionMacroCapabilities(), emulating)
		out, err := inj.create(fmt.Sprintf("key-mapper %s", inj.name), caps)
		if err != nil {
			inj.logf("injector %s: create virtual output for %s: %v", inj.name, path, err)
			_ = dev.Close()
			continue
		}

		sources = append(sources, &source{path: path, device: dev, output: out})
	}
	return sources
}

func (inj *Injector) unionMacroCapabilities() map[evdev.EvCode]bool {
	result := map[evdev.EvCode]bool{}
	for _, prog := range inj.macroPrograms {
		for c := range prog.Capabilities() {
			result[c] = true
		}
	}
	return result
}

// readLoop is the Consumer task for one grabbed source node: it blocks on
// ReadOne and forwards every non-EV_SYN event to the shared fan-in
// channel, feeding the producer's axis cache along the way.
func (inj *Injector) readLoop(s *source, out chan<- fanIn) {
	defer inj.wg.Done()
	for {
		ev, err := s.device.ReadOne()
		if err != nil {
			inj.logf("injector %s: source %s ended: %v", inj.name, s.path, err)
			return
		}
		if ev.Type == evdev.EV_SYN {
			continue
		}
		e := evcode.Event{Type: ev.Type, Code: ev.Code, Value: ev.Value}
		if s.isJoystick {
			inj.producer.Notify(e)
		}
		select {
		case out <- fanIn{s, e}:
		case <-inj.ctx.Done():
			return
		}
	}
}

// dispatchLoop is the single goroutine that owns the Tracker's shared
// state (§5): it serializes fan-in events, debounce ticks, and the
// control channel so nothing else ever touches unreleased/active_macros
// concurrently.
func (inj *Injector) dispatchLoop(fanin <-chan fanIn) {
	defer inj.wg.Done()
	ticker := time.NewTicker(joystick.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-inj.ctx.Done():
			inj.closeSources()
			return
		case msg := <-inj.control:
			if msg == "CLOSE" {
				inj.cancel()
				inj.closeSources()
				return
			}
		case item, ok := <-fanin:
			if !ok {
				return
			}
			inj.handleEvent(item)
		case <-ticker.C:
			inj.debounce.Tick()
		}
	}
}

// closeSources closes every grabbed source's device, which unblocks any
// Consumer task parked in a blocking ReadOne call so it can observe the
// cancellation and return.
func (inj *Injector) closeSources() {
	inj.closeOne.Do(func() {
		for _, s := range inj.sources {
			_ = s.device.Close()
		}
	})
}

func (inj *Injector) handleEvent(item fanIn) {
	s, ev := item.src, item.ev

	maxAbs := int32(0)
	if min, max, ok := s.device.AbsInfo(ev.Code); ok {
		maxAbs = maxMagnitude(min, max)
	}

	if !evcode.Classify(&ev, maxAbs, inj.config.LeftPurpose, inj.config.RightPurpose) {
		return
	}

	inj.tracker.Handle(ev, s.macros, s.write)

	if evcode.IsWheel(ev) {
		tc := tracker.TypeCode{Type: ev.Type, Code: ev.Code}
		release := ev
		release.Value = 0
		inj.debounce.Register(wheelKey{s, tc}, wheelReleaseTicks, func() {
			inj.tracker.Handle(release, s.macros, s.write)
		})
	}
}

type wheelKey struct {
	src *source
	tc  tracker.TypeCode
}
