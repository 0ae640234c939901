package injector

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/hixan/key-mapper/internal/mapping"
	"github.com/hixan/key-mapper/internal/symbols"
)

// fakeDevice replays a canned event sequence, then blocks until closed.
type fakeDevice struct {
	mu     sync.Mutex
	events []evdev.InputEvent
	pos    int
	closed bool
	caps   map[evdev.EvType][]evdev.EvCode
	grabErrsBeforeOK int
	grabCalls        int
}

func (f *fakeDevice) ReadOne() (*evdev.InputEvent, error) {
	f.mu.Lock()
	if f.pos < len(f.events) {
		ev := f.events[f.pos]
		f.pos++
		f.mu.Unlock()
		return &ev, nil
	}
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, io.EOF
	}
	// block until closed, like a real device with nothing more to read
	for {
		time.Sleep(time.Millisecond)
		f.mu.Lock()
		c := f.closed
		f.mu.Unlock()
		if c {
			return nil, io.EOF
		}
	}
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) Grab() error {
	f.mu.Lock()
	f.grabCalls++
	f.mu.Unlock()
	if f.grabErrsBeforeOK > 0 {
		f.grabErrsBeforeOK--
		return errors.New("device busy")
	}
	return nil
}

func (f *fakeDevice) grabCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grabCalls
}

func (f *fakeDevice) CapableTypes() []evdev.EvType {
	var types []evdev.EvType
	for t := range f.caps {
		types = append(types, t)
	}
	return types
}

func (f *fakeDevice) CapableEvents(t evdev.EvType) []evdev.EvCode { return f.caps[t] }

func (f *fakeDevice) AbsInfo(code evdev.EvCode) (int32, int32, bool) { return 0, 0, false }

type fakeOutput struct {
	mu      sync.Mutex
	written []evdev.InputEvent
	closed  bool
}

func (o *fakeOutput) WriteOne(e *evdev.InputEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.written = append(o.written, *e)
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) snapshot() []evdev.InputEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]evdev.InputEvent, len(o.written))
	copy(out, o.written)
	return out
}

func simpleMapping() *mapping.Mapping {
	return &mapping.Mapping{
		Config: mapping.DefaultConfig(),
		Entries: []mapping.Entry{
			{
				Key:    mapping.Key{{Type: evdev.EV_KEY, Code: 30, Value: 1}},
				Output: mapping.NewOutput("KEY_B"),
			},
		},
	}
}

func TestInjectorGrabsAndRemapsEvent(t *testing.T) {
	dev := &fakeDevice{
		events: []evdev.InputEvent{
			{Type: evdev.EV_KEY, Code: 30, Value: 1},
			{Type: evdev.EV_KEY, Code: 30, Value: 0},
		},
		caps: map[evdev.EvType][]evdev.EvCode{evdev.EV_KEY: {30}},
	}
	out := &fakeOutput{}

	inj, err := New("test", []string{"/dev/input/fake0"}, simpleMapping(), symbols.Default(), nil, false)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	inj.open = func(path string) (Device, error) { return dev, nil }
	inj.create = func(name string, caps map[evdev.EvType][]evdev.EvCode) (Output, error) { return out, nil }

	done := make(chan error, 1)
	go func() { done <- inj.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(out.snapshot()) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	inj.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	written := out.snapshot()
	var keyEvents []evdev.InputEvent
	for _, e := range written {
		if e.Type == evdev.EV_KEY {
			keyEvents = append(keyEvents, e)
		}
	}
	if len(keyEvents) != 2 || keyEvents[0].Code != 48 || keyEvents[0].Value != 1 || keyEvents[1].Code != 48 || keyEvents[1].Value != 0 {
		t.Fatalf("expected KEY_A remapped to KEY_B press/release, got %v", keyEvents)
	}
}

func TestInjectorRejectsRestart(t *testing.T) {
	dev := &fakeDevice{caps: map[evdev.EvType][]evdev.EvCode{evdev.EV_KEY: {30}}}
	out := &fakeOutput{}

	inj, err := New("test", []string{"/dev/input/fake0"}, simpleMapping(), symbols.Default(), nil, false)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	inj.open = func(path string) (Device, error) { return dev, nil }
	inj.create = func(name string, caps map[evdev.EvType][]evdev.EvCode) (Output, error) { return out, nil }

	done := make(chan error, 1)
	go func() { done <- inj.Start(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	if err := inj.Start(context.Background()); err == nil {
		t.Fatal("expected an error starting an already-started injector")
	}

	inj.Stop()
	<-done
}

func TestInjectorGrabRetriesThenSucceeds(t *testing.T) {
	dev := &fakeDevice{caps: map[evdev.EvType][]evdev.EvCode{evdev.EV_KEY: {30}}, grabErrsBeforeOK: 2}
	out := &fakeOutput{}

	inj, err := New("test", []string{"/dev/input/fake0"}, simpleMapping(), symbols.Default(), nil, false)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	inj.open = func(path string) (Device, error) { return dev, nil }
	inj.create = func(name string, caps map[evdev.EvType][]evdev.EvCode) (Output, error) { return out, nil }

	done := make(chan error, 1)
	go func() { done <- inj.Start(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	inj.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected eventual grab success, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return")
	}
}

func TestInjectorSkipsDeviceWithNoOverlappingCapability(t *testing.T) {
	// simpleMapping only references KEY_A (code 30); this device only
	// exposes an unrelated key and no joystick axes, so it must never be
	// grabbed or turned into a virtual output.
	dev := &fakeDevice{caps: map[evdev.EvType][]evdev.EvCode{evdev.EV_KEY: {31}}}
	out := &fakeOutput{}

	inj, err := New("test", []string{"/dev/input/fake0"}, simpleMapping(), symbols.Default(), nil, false)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	inj.open = func(path string) (Device, error) { return dev, nil }
	inj.create = func(name string, caps map[evdev.EvType][]evdev.EvCode) (Output, error) { return out, nil }

	if err := inj.Start(context.Background()); err == nil {
		t.Fatal("expected an error since no source ended up grabbed")
	}

	if n := dev.grabCount(); n != 0 {
		t.Fatalf("expected device to never be grabbed, got %d Grab() calls", n)
	}
	if !dev.closed {
		t.Fatal("expected the inspected-but-unneeded device to be closed")
	}
}

func TestInjectorExitsCleanlyWhenNoSourcesGrabbed(t *testing.T) {
	inj, err := New("test", nil, simpleMapping(), symbols.Default(), nil, false)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := inj.Start(context.Background()); err != nil {
		t.Fatalf("expected clean exit with no source paths, got %v", err)
	}
}
