package injector

import evdev "github.com/holoplot/go-evdev"

// realDevice adapts *evdev.InputDevice to the Device interface.
type realDevice struct {
	dev *evdev.InputDevice
}

func (r realDevice) ReadOne() (*evdev.InputEvent, error)           { return r.dev.ReadOne() }
func (r realDevice) Close() error                                 { return r.dev.Close() }
func (r realDevice) Grab() error                                  { return r.dev.Grab() }
func (r realDevice) CapableTypes() []evdev.EvType                 { return r.dev.CapableTypes() }
func (r realDevice) CapableEvents(t evdev.EvType) []evdev.EvCode  { return r.dev.CapableEvents(t) }

func (r realDevice) AbsInfo(code evdev.EvCode) (min, max int32, ok bool) {
	infos, err := r.dev.AbsInfos()
	if err != nil {
		return 0, 0, false
	}
	info, found := infos[code]
	if !found {
		return 0, 0, false
	}
	return info.Minimum, info.Maximum, true
}

// realOutput adapts *evdev.InputDevice (created via evdev.CreateDevice)
// to the Output interface.
type realOutput struct {
	dev *evdev.InputDevice
}

func (r realOutput) WriteOne(e *evdev.InputEvent) error { return r.dev.WriteOne(e) }
func (r realOutput) Close() error                        { return r.dev.Close() }

func defaultOpen(path string) (Device, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return realDevice{dev}, nil
}

// outputVendor/outputProduct identify key-mapper's synthesized devices in
// /proc/bus/input/devices; arbitrary but fixed values outside any
// registered USB vendor range.
const (
	outputBusType = 0x03
	outputVendor  = 0x4b4d // "KM"
	outputProduct = 0x0001
)

func defaultCreate(name string, caps map[evdev.EvType][]evdev.EvCode) (Output, error) {
	id := evdev.InputID{BusType: outputBusType, Vendor: outputVendor, Product: outputProduct, Version: 1}
	dev, err := evdev.CreateDevice(name, id, caps)
	if err != nil {
		return nil, err
	}
	return realOutput{dev}, nil
}
