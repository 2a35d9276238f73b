// Package espserial locates and opens the ESP8266 boards the hardware
// plugins talk to. Discovery matches the USB serial adapters those boards
// ship with (CH340/CP210x style identifiers).
package espserial

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrNotFound is returned when no ESP-style serial device is attached.
var ErrNotFound = errors.New("no ESP serial device found")

// Conn is an open serial link. serial.Port satisfies it; tests substitute
// in-memory fakes.
type Conn interface {
	io.ReadWriteCloser
}

// Dialer opens a serial connection. The zero port means auto-detect.
type Dialer func(port string, baud int) (Conn, error)

// Open dials a serial port, auto-detecting the device when port is empty.
func Open(port string, baud int) (Conn, error) {
	if port == "" {
		found, err := FindDevice()
		if err != nil {
			return nil, err
		}
		port = found
	}
	conn, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	return conn, nil
}

// FindDevice scans attached serial ports for an ESP-style USB adapter.
func FindDevice() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	for _, p := range ports {
		if matchesESP(p) {
			return p.Name, nil
		}
	}
	return "", ErrNotFound
}

func matchesESP(p *enumerator.PortDetails) bool {
	if !p.IsUSB {
		return false
	}
	product := strings.ToLower(p.Product)
	name := strings.ToLower(p.Name)
	return strings.Contains(product, "usb") ||
		strings.Contains(product, "wch") ||
		strings.Contains(product, "esp") ||
		strings.Contains(name, "usbserial")
}
