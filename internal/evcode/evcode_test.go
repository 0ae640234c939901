package evcode

import (
	"math"
	"testing"

	evdev "github.com/holoplot/go-evdev"
)

func TestClassifyKeyAlwaysButton(t *testing.T) {
	ev := Event{Type: evdev.EV_KEY, Code: 30, Value: 1}
	if !Classify(&ev, 0, PurposeNone, PurposeNone) {
		t.Fatal("expected EV_KEY to classify as a button")
	}
}

func TestClassifyMousepadNeverButton(t *testing.T) {
	ev := Event{Type: evdev.EV_ABS, Code: 48, Value: 1}
	if Classify(&ev, 0, PurposeNone, PurposeNone) {
		t.Fatal("expected mousepad axis to never classify as a button")
	}
}

func TestClassifyWheelIsButton(t *testing.T) {
	ev := Event{Type: evdev.EV_REL, Code: evdev.REL_WHEEL, Value: 1}
	if !Classify(&ev, 0, PurposeNone, PurposeNone) {
		t.Fatal("expected wheel event to classify as a button")
	}
}

func TestClassifyJoystickButtonsThreshold(t *testing.T) {
	const maxAbs = 32767
	threshold := int32(math.Round(float64(maxAbs) * joystickButtonThreshold))

	// exactly at threshold: not triggered
	atThreshold := Event{Type: evdev.EV_ABS, Code: evdev.ABS_Y, Value: threshold}
	if !Classify(&atThreshold, maxAbs, PurposeButtons, PurposeNone) {
		t.Fatal("expected left stick in buttons purpose to classify as button")
	}
	if atThreshold.Value != 0 {
		t.Errorf("value exactly at threshold should not trigger, got %d", atThreshold.Value)
	}

	// strictly greater: triggered
	above := Event{Type: evdev.EV_ABS, Code: evdev.ABS_Y, Value: maxAbs}
	Classify(&above, maxAbs, PurposeButtons, PurposeNone)
	if above.Value != -1 && above.Value != 1 {
		t.Errorf("value above threshold should trigger with sign, got %d", above.Value)
	}
}

func TestClassifyJoystickNotButtonsPurpose(t *testing.T) {
	ev := Event{Type: evdev.EV_ABS, Code: evdev.ABS_X, Value: 32767}
	if Classify(&ev, 32767, PurposeMouse, PurposeNone) {
		t.Fatal("expected joystick axis configured for mouse to not classify as a button")
	}
}

func TestClassifyHatAxisReducesToSign(t *testing.T) {
	ev := Event{Type: evdev.EV_ABS, Code: 0x10, Value: -1}
	if !Classify(&ev, 0, PurposeNone, PurposeNone) {
		t.Fatal("expected hat axis to classify as a button")
	}
	if ev.Value != -1 {
		t.Errorf("expected sign-reduced value -1, got %d", ev.Value)
	}
}

func TestClassifyRawValueOneBelowThresholdNotTriggered(t *testing.T) {
	// A genuine raw deflection of exactly 1 out of a maxAbs of 32767 is far
	// below the button threshold and must not be mistaken for an
	// already-normalized value of 1.
	const maxAbs = 32767
	ev := Event{Type: evdev.EV_ABS, Code: evdev.ABS_X, Value: 1}
	if !Classify(&ev, maxAbs, PurposeButtons, PurposeNone) {
		t.Fatal("expected left stick in buttons purpose to classify as button")
	}
	if ev.Value != 0 {
		t.Errorf("raw value of 1 should not trigger against maxAbs %d, got %d", maxAbs, ev.Value)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	ev := Event{Type: evdev.EV_ABS, Code: evdev.ABS_X, Value: 32767}
	Classify(&ev, 32767, PurposeButtons, PurposeNone)
	first := ev
	Classify(&ev, 32767, PurposeButtons, PurposeNone)
	if ev != first {
		t.Errorf("classification not idempotent: %+v != %+v", ev, first)
	}
}
