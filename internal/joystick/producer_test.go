package joystick

import (
	"context"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/hixan/key-mapper/internal/evcode"
)

const maxAbs = 32767

type sample struct {
	t evdev.EvType
	c evdev.EvCode
	v int32
}

func recordEmit() (EmitFunc, *[]sample) {
	var out []sample
	return func(t evdev.EvType, c evdev.EvCode, v int32) {
		out = append(out, sample{t, c, v})
	}, &out
}

func run3Ticks(t *testing.T, p *Producer, emit EmitFunc) {
	t.Helper()
	for i := 0; i < 3; i++ {
		p.tick(emit)
	}
}

func TestMouseFullDeflectionEmitsConstantSpeed(t *testing.T) {
	p := New(Config{LeftPurpose: evcode.PurposeMouse, NonLinearity: 1, PointerSpeed: 20})
	p.SetMaxAbs(maxAbs)
	p.Notify(evcode.Event{Type: evdev.EV_ABS, Code: evdev.ABS_X, Value: maxAbs})

	emit, out := recordEmit()
	run3Ticks(t, p, emit)

	if len(*out) == 0 {
		t.Fatal("expected at least one emission")
	}
	for _, s := range *out {
		if s != (sample{evdev.EV_REL, evdev.REL_X, 20}) {
			t.Errorf("expected constant (REL_X, 20) emissions, got %v", s)
		}
	}
}

func TestMouseNegativeDeflection(t *testing.T) {
	p := New(Config{LeftPurpose: evcode.PurposeMouse, NonLinearity: 1, PointerSpeed: 20})
	p.SetMaxAbs(maxAbs)
	p.Notify(evcode.Event{Type: evdev.EV_ABS, Code: evdev.ABS_X, Value: -maxAbs})

	emit, out := recordEmit()
	run3Ticks(t, p, emit)

	for _, s := range *out {
		if s != (sample{evdev.EV_REL, evdev.REL_X, -20}) {
			t.Errorf("expected constant (REL_X, -20) emissions, got %v", s)
		}
	}
}

func TestRightStickWheelHorizontalNotInverted(t *testing.T) {
	p := New(Config{RightPurpose: evcode.PurposeWheel, XScrollSpeed: 1, YScrollSpeed: 1})
	p.Notify(evcode.Event{Type: evdev.EV_ABS, Code: evdev.ABS_RX, Value: maxAbs})

	emit, out := recordEmit()
	p.tick(emit)

	want := sample{evdev.EV_REL, evdev.REL_HWHEEL, 1}
	if len(*out) != 1 || (*out)[0] != want {
		t.Fatalf("got %v, want %v", *out, want)
	}
}

func TestWheelVerticalIsInverted(t *testing.T) {
	p := New(Config{LeftPurpose: evcode.PurposeWheel, XScrollSpeed: 1, YScrollSpeed: 1})
	p.Notify(evcode.Event{Type: evdev.EV_ABS, Code: evdev.ABS_Y, Value: maxAbs})

	emit, out := recordEmit()
	p.tick(emit)

	want := sample{evdev.EV_REL, evdev.REL_WHEEL, -1}
	if len(*out) != 1 || (*out)[0] != want {
		t.Fatalf("got %v, want %v", *out, want)
	}
}

func TestWheelScrollSpeedScalesMagnitude(t *testing.T) {
	p := New(Config{LeftPurpose: evcode.PurposeWheel, XScrollSpeed: 2, YScrollSpeed: 3})
	p.Notify(evcode.Event{Type: evdev.EV_ABS, Code: evdev.ABS_X, Value: maxAbs})
	p.Notify(evcode.Event{Type: evdev.EV_ABS, Code: evdev.ABS_Y, Value: -maxAbs})

	emit, out := recordEmit()
	p.tick(emit)

	foundH, foundW := false, false
	for _, s := range *out {
		if s == (sample{evdev.EV_REL, evdev.REL_HWHEEL, 2}) {
			foundH = true
		}
		if s == (sample{evdev.EV_REL, evdev.REL_WHEEL, 3}) {
			foundW = true
		}
	}
	if !foundH || !foundW {
		t.Fatalf("expected scaled H/V wheel events, got %v", *out)
	}
}

func TestNoneAxisProducesNoEmission(t *testing.T) {
	p := New(Config{LeftPurpose: evcode.PurposeNone})
	p.Notify(evcode.Event{Type: evdev.EV_ABS, Code: evdev.ABS_X, Value: maxAbs})

	emit, out := recordEmit()
	p.tick(emit)

	if len(*out) != 0 {
		t.Fatalf("expected no emissions for purpose none, got %v", *out)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p := New(Config{LeftPurpose: evcode.PurposeMouse, NonLinearity: 1, PointerSpeed: 1})
	p.SetMaxAbs(maxAbs)

	ctx, cancel := context.WithCancel(context.Background())
	emit, _ := recordEmit()
	done := make(chan struct{})
	go func() {
		p.Run(ctx, emit)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
