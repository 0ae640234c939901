package injector

import (
	"os/exec"
	"regexp"
)

// numlockStatusRe extracts xset q's "Num Lock:  on/off" line, mirroring
// the original implementation's is_numlock_on regex.
var numlockStatusRe = regexp.MustCompile(`Num Lock:\s+(\S+)`)

// isNumlockOn shells out to xset, exactly as the original's
// is_numlock_on does, since there is no portable in-kernel numlock query
// through evdev/uinput alone (§4.6, §8 supplemented features). It returns
// (false, false) when xset is unavailable or the state can't be parsed
// (e.g. running in a bare tty), matching the original's "return None"
// tty fallback, but as an explicit ok flag instead of a nullable bool.
func isNumlockOn() (on bool, ok bool) {
	out, err := exec.Command("xset", "q").Output()
	if err != nil {
		return false, false
	}
	m := numlockStatusRe.FindSubmatch(out)
	if m == nil {
		return false, false
	}
	return string(m[1]) == "on", true
}

// setNumlock shells out to numlockx, mirroring set_numlock. A failure is
// swallowed: numlockx may not be installed, or the session may be a bare
// tty where there is nothing to set.
func setNumlock(on bool) {
	value := "off"
	if on {
		value = "on"
	}
	_ = exec.Command("numlockx", value).Run()
}
