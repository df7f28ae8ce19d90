package dualarm

import (
	"context"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

// probeSettleDelay is shorter than the normal connect settle: discovery
// probes many ports and most of them are not ours.
const probeSettleDelay = 1500 * time.Millisecond

// DiscoverControllers scans serial ports for servo controllers that answer
// the ping handshake and returns their port paths.
func DiscoverControllers(ctx context.Context, logger logging.Logger) ([]string, error) {
	allPorts := enumerateSerialPorts()
	logger.Debugf("found %d serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	logger.Debugf("filtered to %d candidate ports", len(candidates))

	var found []string
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			logger.Info("discovery cancelled")
			return found, ctx.Err()
		default:
		}

		if probePort(portPath, logger) {
			logger.Infof("servo controller found on %s", portPath)
			found = append(found, portPath)
		}
	}

	if len(found) == 0 {
		logger.Info("no servo controllers discovered")
	}
	return found, nil
}

// probePort opens the port and checks for a PONG. The port is always
// closed afterward so a later Acquire can claim it.
func probePort(portPath string, logger logging.Logger) bool {
	mode := &serial.Mode{
		BaudRate: defaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portPath, mode)
	if err != nil {
		logger.Debugf("failed to open port %s: %v", portPath, err)
		return false
	}
	defer port.Close()

	time.Sleep(probeSettleDelay)
	if err := port.ResetInputBuffer(); err != nil {
		logger.Debugf("failed to flush %s: %v", portPath, err)
		return false
	}

	if _, err := port.Write([]byte("P\n")); err != nil {
		logger.Debugf("ping write to %s failed: %v", portPath, err)
		return false
	}
	line, err := readLine(port, pingTimeout)
	if err != nil {
		logger.Debugf("no response from %s: %v", portPath, err)
		return false
	}
	return line == respPong
}

// filterCandidatePorts keeps only ports matching platform USB-serial
// naming patterns.
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") || strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	if strings.HasPrefix(port, "COM") {
		return true
	}
	return false
}

// enumerateSerialPorts returns every serial port on the system.
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
