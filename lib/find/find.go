// Package find locates USB serial adapters through sysfs, so an instrument
// can be configured by its adapter's serial number instead of a tty name that
// changes between boots.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SysfsRoot is where the kernel exposes device information.
const SysfsRoot = "/sys"

type FilterFn func(*Usbtty) bool

// SerialFilter matches an adapter by its USB serial number.
func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// ManufacturerFilter matches adapters whose manufacturer string contains s,
// e.g. "FTDI" or "Prolific".
func ManufacturerFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return strings.Contains(ut.Mfg, s) }
}

// Find returns the device path (/dev/ttyXXX) of the single USB tty under the
// sysfs root that matches filter. A nil filter matches everything.
func Find(root string, filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys(root)
	if err != nil {
		return "", err
	}
	var matches Usbttys
	for i := range ttys {
		if filter == nil || filter(&ttys[i]) {
			matches = append(matches, ttys[i])
		}
	}
	switch len(matches) {
	case 0:
		return "", errors.New("no matching ttys found")
	case 1:
		return "/dev/" + matches[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys match:\n%s", matches)
}

type Usbtty struct {
	Dev, Path string
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s path %s pid/vid %s/%s mfg/prod %s/%s serial %s", u.Dev, u.Path, u.IDp, u.IDv, u.Mfg, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// AllUsbTtys lists the ttys backed by USB devices, by following the links in
// <root>/class/tty.
func AllUsbTtys(root string) (Usbttys, error) {
	root, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}
	sct := filepath.Join(root, "class", "tty")
	entries, err := os.ReadDir(sct)
	if err != nil {
		return nil, err
	}
	var devs Usbttys
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// e.g. /sys/class/tty/ttyUSB0 ->
		// /sys/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/ttyUSB0/tty/ttyUSB0
		abs, err := filepath.EvalSymlinks(filepath.Join(sct, e.Name()))
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || !strings.Contains(filepath.ToSlash(rel), "/usb") {
			continue
		}
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			continue
		}
		ut := Usbtty{Dev: e.Name(), Path: abs}
		if usb, ok := usbDeviceDir(dev, root); ok {
			ut.IDp, ut.IDv, ut.Mfg, ut.Prod, ut.Serial = readUsbInfo(usb)
		}
		devs = append(devs, ut)
	}
	return devs, nil
}

// usbDeviceDir walks up from a tty's device directory to the USB device that
// owns it. ACM ttys hang off the interface directly below it, usb-serial
// ttys one level deeper.
func usbDeviceDir(dev, root string) (string, bool) {
	for d := dev; len(d) > len(root); d = filepath.Dir(d) {
		if _, err := os.Stat(filepath.Join(d, "idVendor")); err == nil {
			return d, true
		}
	}
	return "", false
}

// readUsbInfo reads product and vendor ids, and mfg/product/serial strings.
// Missing files leave the field empty.
func readUsbInfo(dir string) (idp, idv, mfg, prod, serial string) {
	read := func(name string) string {
		b, _ := os.ReadFile(filepath.Join(dir, name))
		return strings.TrimSpace(string(b))
	}
	return read("idProduct"), read("idVendor"), read("manufacturer"), read("product"), read("serial")
}
