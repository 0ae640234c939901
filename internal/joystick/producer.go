// Package joystick implements the joystick-to-pointer/wheel producer
// described in §4.4 of the spec: a single fixed-frequency task per
// Injector that samples cached axis values and emits REL_X/REL_Y or
// REL_WHEEL/REL_HWHEEL events. It is grounded on the original
// implementation's keymapper/dev/event_producer.py, whose source was not
// retrieved but whose behavior is pinned down by
// tests/testcases/test_event_producer.py.
package joystick

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/hixan/key-mapper/internal/evcode"
)

// SampleRate is the tick period of the fixed 60 Hz sampling frequency
// from §4.4.
const SampleRate = time.Second / 60

// EmitFunc is the sink a Producer writes REL events to.
type EmitFunc func(t evdev.EvType, code evdev.EvCode, value int32)

// Config is the subset of the Mapping's gamepad.joystick.* settings a
// Producer needs (§6).
type Config struct {
	LeftPurpose  evcode.Purpose
	RightPurpose evcode.Purpose
	PointerSpeed float64
	NonLinearity float64
	XScrollSpeed float64
	YScrollSpeed float64
}

// stick holds one analog stick's cached axis values and the mouse
// accumulator's fractional remainder. The remainder fields are touched
// only by the producer's own tick loop; the axis caches are written by
// Consumer goroutines via Notify and read here, hence atomics (§5:
// "sampling state lives entirely inside the producer; only the most
// recent axis value matters").
type stick struct {
	x, y         atomic.Int32
	remX, remY   float64
	xCode, yCode evdev.EvCode
}

// Producer samples the left and right stick axes at SampleRate and emits
// pointer or wheel events per their configured purpose.
type Producer struct {
	cfg    Config
	maxAbs atomic.Int32

	left  stick
	right stick
}

// New creates a Producer for cfg. maxAbs may be set later via SetMaxAbs
// once the source device's absinfo is known.
func New(cfg Config) *Producer {
	p := &Producer{cfg: cfg}
	p.left.xCode, p.left.yCode = evdev.ABS_X, evdev.ABS_Y
	p.right.xCode, p.right.yCode = evdev.ABS_RX, evdev.ABS_RY
	return p
}

// SetMaxAbs records the device's maximum absolute-axis magnitude, used to
// normalize deflection into [-1, 1].
func (p *Producer) SetMaxAbs(max int32) {
	p.maxAbs.Store(max)
}

// Notify updates the cached value for one axis event. Safe to call
// concurrently with Run from any number of Consumer goroutines.
func (p *Producer) Notify(ev evcode.Event) {
	if ev.Type != evdev.EV_ABS {
		return
	}
	switch ev.Code {
	case evdev.ABS_X:
		p.left.x.Store(ev.Value)
	case evdev.ABS_Y:
		p.left.y.Store(ev.Value)
	case evdev.ABS_RX:
		p.right.x.Store(ev.Value)
	case evdev.ABS_RY:
		p.right.y.Store(ev.Value)
	}
}

// Active reports whether either stick is configured for mouse or wheel
// emulation, which the injector's capability synthesis needs (§4.6 step
// 4).
func (p *Producer) Active() bool {
	return p.cfg.LeftPurpose == evcode.PurposeMouse || p.cfg.LeftPurpose == evcode.PurposeWheel ||
		p.cfg.RightPurpose == evcode.PurposeMouse || p.cfg.RightPurpose == evcode.PurposeWheel
}

// Run samples both sticks every SampleRate until ctx is canceled.
func (p *Producer) Run(ctx context.Context, emit EmitFunc) {
	ticker := time.NewTicker(SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(emit)
		}
	}
}

func (p *Producer) tick(emit EmitFunc) {
	maxAbs := p.maxAbs.Load()
	p.sample(&p.left, p.cfg.LeftPurpose, maxAbs, emit)
	p.sample(&p.right, p.cfg.RightPurpose, maxAbs, emit)
}

func (p *Producer) sample(s *stick, purpose evcode.Purpose, maxAbs int32, emit EmitFunc) {
	switch purpose {
	case evcode.PurposeMouse:
		p.sampleMouse(s, maxAbs, emit)
	case evcode.PurposeWheel:
		p.sampleWheel(s, emit)
	default:
		// none/buttons: the button path is handled by the classifier and
		// tracker, not the producer (§4.4 "none").
	}
}

func (p *Producer) sampleMouse(s *stick, maxAbs int32, emit EmitFunc) {
	s.remX = accumulateMouse(s.x.Load(), maxAbs, p.cfg.NonLinearity, p.cfg.PointerSpeed, s.remX, evdev.REL_X, emit)
	s.remY = accumulateMouse(s.y.Load(), maxAbs, p.cfg.NonLinearity, p.cfg.PointerSpeed, s.remY, evdev.REL_Y, emit)
}

// accumulateMouse computes one axis's displacement for this tick, adds it
// to the running fractional remainder, and emits a REL event carrying the
// integer part once the remainder's magnitude reaches 1 (§4.4).
func accumulateMouse(axis, maxAbs int32, nonLinearity, speed, remainder float64, code evdev.EvCode, emit EmitFunc) float64 {
	if maxAbs <= 0 || axis == 0 {
		return remainder
	}

	fraction := float64(axis) / float64(maxAbs)
	magnitude := math.Pow(math.Abs(fraction), nonLinearity)
	displacement := math.Copysign(magnitude, fraction) * speed

	remainder += displacement
	whole := math.Trunc(remainder)
	if whole != 0 {
		emit(evdev.EV_REL, code, int32(whole))
		remainder -= whole
	}
	return remainder
}

func (p *Producer) sampleWheel(s *stick, emit EmitFunc) {
	emitWheelAxis(s.x.Load(), p.cfg.XScrollSpeed, evdev.REL_HWHEEL, false, emit)
	emitWheelAxis(s.y.Load(), p.cfg.YScrollSpeed, evdev.REL_WHEEL, true, emit)
}

// emitWheelAxis fires one wheel tick for axis if it is deflected, at the
// configured scroll speed. Vertical deflection is sign-inverted to match
// the native "scroll down on positive deflection" convention (§4.4).
func emitWheelAxis(axis int32, speed float64, code evdev.EvCode, invert bool, emit EmitFunc) {
	if axis == 0 {
		return
	}
	sign := 1.0
	if axis < 0 {
		sign = -1.0
	}
	if invert {
		sign = -sign
	}
	value := int32(sign * speed)
	if value == 0 {
		return
	}
	emit(evdev.EV_REL, code, value)
}
