package injector

import (
	evdev "github.com/holoplot/go-evdev"

	"github.com/hixan/key-mapper/internal/tracker"
)

// joystickRelCapabilities is the fixed REL set substituted for EV_ABS when
// a source node is doing joystick-to-pointer/wheel emulation (§4.6 step 4).
var joystickRelCapabilities = []evdev.EvCode{evdev.REL_X, evdev.REL_Y, evdev.REL_WHEEL, evdev.REL_HWHEEL}

// synthesizeCapabilities builds a grabbed source node's virtual output
// capability set, following the ordered rules in §4.6:
//  1. start from the source's own capabilities (EV_ABS included as-is)
//  2. add every code that is a key_to_code target (except the disable
//     sentinel)
//  3. add every code any bound macro may emit
//  4. if this node does joystick emulation, replace EV_ABS with the fixed
//     REL set and ensure BTN_LEFT is present
//  5. strip EV_SYN and EV_FF, set automatically by the uinput layer
//  6. strip EV_ABS if EV_KEY capabilities exist and joystick emulation is
//     active
func synthesizeCapabilities(source Device, keyToCode map[string]tracker.Target, macroCaps map[evdev.EvCode]bool, joystickActive bool) map[evdev.EvType][]evdev.EvCode {
	caps := map[evdev.EvType][]evdev.EvCode{}
	seen := map[evdev.EvType]map[evdev.EvCode]bool{}

	add := func(t evdev.EvType, c evdev.EvCode) {
		if seen[t] == nil {
			seen[t] = map[evdev.EvCode]bool{}
		}
		if seen[t][c] {
			return
		}
		seen[t][c] = true
		caps[t] = append(caps[t], c)
	}

	for _, t := range source.CapableTypes() {
		if t == evdev.EV_SYN || t == evdev.EV_FF {
			continue
		}
		for _, c := range source.CapableEvents(t) {
			add(t, c)
		}
	}

	for _, target := range keyToCode {
		if target.Action == tracker.ActionDisable {
			continue
		}
		add(target.Type, target.Code)
	}

	for code := range macroCaps {
		add(evdev.EV_KEY, code)
	}

	if joystickActive {
		delete(seen, evdev.EV_ABS)
		delete(caps, evdev.EV_ABS)
		for _, c := range joystickRelCapabilities {
			add(evdev.EV_REL, c)
		}
		add(evdev.EV_KEY, evdev.BTN_LEFT)
	}

	if joystickActive && len(caps[evdev.EV_KEY]) > 0 {
		delete(seen, evdev.EV_ABS)
		delete(caps, evdev.EV_ABS)
	}

	return caps
}
