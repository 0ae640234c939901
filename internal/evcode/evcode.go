// Package evcode decides whether an evdev event should be treated as a
// button-like input for mapping purposes, and normalizes its value into
// the canonical {-1, 0, +1} range used everywhere else in the injector.
package evcode

import (
	"math"

	evdev "github.com/holoplot/go-evdev"
)

// Purpose is how a joystick axis pair (left stick or right stick) is
// configured to behave.
type Purpose int

const (
	PurposeNone Purpose = iota
	PurposeMouse
	PurposeWheel
	PurposeButtons
)

// ParsePurpose maps a gamepad.joystick.*_purpose configuration string to a
// Purpose, per §6 of the spec.
func ParsePurpose(s string) Purpose {
	switch s {
	case "mouse":
		return PurposeMouse
	case "wheel":
		return PurposeWheel
	case "buttons":
		return PurposeButtons
	default:
		return PurposeNone
	}
}

// joystickButtonThreshold is a third of a quarter circle: sin(pi/6).
var joystickButtonThreshold = math.Sin(math.Pi / 6)

// Event is the injection core's working representation of an evdev
// (type, code, value) triple.
type Event struct {
	Type  evdev.EvType
	Code  evdev.EvCode
	Value int32

	// classified is set once Classify has normalized this event's Value.
	// It gates the joystick-as-buttons idempotency short-circuit below so
	// that only an event Classify has already processed skips
	// re-evaluation against maxAbs — a genuine raw reading that happens to
	// equal -1/0/1 still goes through the threshold test.
	classified bool
}

func FromInputEvent(ev *evdev.InputEvent) Event {
	return Event{Type: ev.Type, Code: ev.Code, Value: ev.Value}
}

func sign(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// IsWheel reports whether the event is a relative wheel event. Wheels
// never produce a native up-edge (§4.2 "Wheel special case").
func IsWheel(e Event) bool {
	return e.Type == evdev.EV_REL && (e.Code == evdev.REL_WHEEL || e.Code == evdev.REL_HWHEEL)
}

// isMousepadAxis covers the multi-touch analog codes (47..61) that must
// never be treated as buttons.
func isMousepadAxis(code evdev.EvCode) bool {
	return code >= 47 && code <= 61
}

func isJoystickAxis(code evdev.EvCode) bool {
	switch code {
	case evdev.ABS_X, evdev.ABS_Y, evdev.ABS_RX, evdev.ABS_RY:
		return true
	default:
		return false
	}
}

// isLeftStick / isRightStick group the two axes that make up each stick.
func isLeftStick(code evdev.EvCode) bool {
	return code == evdev.ABS_X || code == evdev.ABS_Y
}

func isRightStick(code evdev.EvCode) bool {
	return code == evdev.ABS_RX || code == evdev.ABS_RY
}

// Classify decides whether ev describes a button-like input, per the
// ordered rules in §4.1. When it does, ev.Value is rewritten in place to
// its canonical form so downstream stages (the tracker, the macro
// interpreter) only ever see {-1, 0, +1}. maxAbs is the device's maximum
// absolute-axis magnitude (§"max_abs"), required to evaluate the
// joystick-as-buttons threshold; pass 0 if unknown (a joystick-axis event
// is then not classified as a button and its value is left unchanged).
func Classify(ev *Event, maxAbs int32, leftPurpose, rightPurpose Purpose) bool {
	if ev.Type == evdev.EV_KEY {
		ev.classified = true
		return true
	}

	if ev.Type == evdev.EV_ABS && isMousepadAxis(ev.Code) {
		return false
	}

	if IsWheel(*ev) {
		ev.classified = true
		return true
	}

	if ev.Type != evdev.EV_ABS {
		return false
	}

	if isJoystickAxis(ev.Code) {
		purpose := PurposeNone
		switch {
		case isLeftStick(ev.Code):
			purpose = leftPurpose
		case isRightStick(ev.Code):
			purpose = rightPurpose
		}
		if purpose != PurposeButtons {
			return false
		}

		if ev.classified {
			return true
		}

		if maxAbs <= 0 {
			return false
		}

		threshold := float64(maxAbs) * joystickButtonThreshold
		triggered := math.Abs(float64(ev.Value)) > threshold
		if triggered {
			ev.Value = sign(ev.Value)
		} else {
			ev.Value = 0
		}
		ev.classified = true
		return true
	}

	// Other analog axes (e.g. D-pad hats): buttons, value reduced to sign.
	ev.Value = sign(ev.Value)
	ev.classified = true
	return true
}
