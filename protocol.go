package dualarm

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// Wire protocol: ASCII lines, LF-terminated.
//
//	S <ch> <angle>  set servo, expects OK
//	R <ch>          release channel, expects OK
//	X               release all (emergency stop), expects OK
//	P               ping, expects PONG
//
// Anything else in response is treated as a NACK.
const (
	respOK   = "OK"
	respPong = "PONG"

	defaultBaudRate = 115200

	// The controller resets when the port opens; give it time before
	// talking.
	settleDelay = 2 * time.Second

	pingTimeout = 2 * time.Second
	ackTimeout  = 100 * time.Millisecond

	// DefaultDrainInterval is the pump period for flushing pending servo
	// updates (~50 Hz).
	DefaultDrainInterval = 20 * time.Millisecond
)

var errReadTimeout = errors.New("read timed out")

// linkPort is the slice of serial.Port the protocol needs; tests substitute
// an in-memory implementation.
type linkPort interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
	ResetInputBuffer() error
}

// ActuationProtocol drives the servo controller over a half-duplex serial
// line. One exclusive lock serializes every command so command/ACK pairs
// never interleave. Any I/O fault disconnects unconditionally: a broken
// link must be re-handshaken, not retried blindly.
type ActuationProtocol struct {
	logger logging.Logger

	mu        sync.Mutex
	port      linkPort
	portName  string
	connected bool
}

func NewActuationProtocol(logger logging.Logger) *ActuationProtocol {
	return &ActuationProtocol{logger: logger}
}

// Connect opens the serial port, waits out the device reset, flushes stale
// input and performs the ping handshake. On any failure the link is left in
// the disconnected state.
func (p *ActuationProtocol) Connect(portName string) error {
	mode := &serial.Mode{
		BaudRate: defaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port %s", portName)
	}

	time.Sleep(settleDelay)
	return p.attach(port, portName)
}

// attach completes the handshake on an already-open port.
func (p *ActuationProtocol) attach(port linkPort, portName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return errors.Wrapf(err, "failed to flush %s", portName)
	}

	if _, err := port.Write([]byte("P\n")); err != nil {
		port.Close()
		return errors.Wrapf(ErrLinkFailure, "ping write to %s: %v", portName, err)
	}
	line, err := readLine(port, pingTimeout)
	if err != nil || line != respPong {
		port.Close()
		if err == nil {
			err = errors.Errorf("unexpected handshake response %q", line)
		}
		return errors.Wrapf(ErrLinkFailure, "no PONG from %s: %v", portName, err)
	}

	p.port = port
	p.portName = portName
	p.connected = true
	if p.logger != nil {
		p.logger.Infof("connected to servo controller on %s", portName)
	}
	return nil
}

// Connected reports the link state.
func (p *ActuationProtocol) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// readLine reads one LF-terminated line, honoring an overall deadline. A
// deadline expiry is errReadTimeout; anything else is a transport fault.
func readLine(port linkPort, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var buf []byte
	one := make([]byte, 1)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", errReadTimeout
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			return "", err
		}
		n, err := port.Read(one)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", errReadTimeout
		}
		if one[0] == '\n' {
			return strings.TrimRight(string(buf), "\r"), nil
		}
		buf = append(buf, one[0])
	}
}

// transact sends one command line and reads the response under the
// exclusive lock. acked is false on timeout or NACK; a non-nil error means
// the link itself failed and has been torn down.
func (p *ActuationProtocol) transact(cmd, want string, timeout time.Duration) (acked bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return false, ErrNotConnected
	}

	if _, err := p.port.Write([]byte(cmd + "\n")); err != nil {
		p.disconnectLocked()
		return false, errors.Wrapf(ErrLinkFailure, "write %q: %v", cmd, err)
	}

	line, err := readLine(p.port, timeout)
	switch {
	case err == errReadTimeout:
		if p.logger != nil {
			p.logger.Debugf("command %q: no ack within %v", cmd, timeout)
		}
		return false, nil
	case err != nil:
		p.disconnectLocked()
		return false, errors.Wrapf(ErrLinkFailure, "read after %q: %v", cmd, err)
	}

	if line != want {
		if p.logger != nil {
			p.logger.Debugf("command %q: unexpected response %q", cmd, line)
		}
		return false, nil
	}
	return true, nil
}

// clampAngle clamps to the wire range [0,180] and truncates to an integer.
// Out-of-range requests are clamped, not rejected: joint-level limiting
// happens upstream.
func clampAngle(angle float64) int {
	if angle < 0 {
		angle = 0
	} else if angle > 180 {
		angle = 180
	}
	return int(angle)
}

// SetServo commands one channel to an angle. The boolean reports whether
// the controller acknowledged; a non-nil error means the link failed.
func (p *ActuationProtocol) SetServo(channel int, angle float64) (bool, error) {
	return p.transact(fmt.Sprintf("S %d %d", channel, clampAngle(angle)), respOK, ackTimeout)
}

// Release de-energizes one channel.
func (p *ActuationProtocol) Release(channel int) (bool, error) {
	return p.transact(fmt.Sprintf("R %d", channel), respOK, ackTimeout)
}

// ReleaseAll de-energizes every channel (emergency stop).
func (p *ActuationProtocol) ReleaseAll() (bool, error) {
	return p.transact("X", respOK, ackTimeout)
}

// Ping checks link liveness.
func (p *ActuationProtocol) Ping() error {
	acked, err := p.transact("P", respPong, pingTimeout)
	if err != nil {
		return err
	}
	if !acked {
		return errors.Wrap(ErrLinkFailure, "ping not answered")
	}
	return nil
}

// Disconnect releases all servos best-effort, then closes the port.
func (p *ActuationProtocol) Disconnect() error {
	// De-energize before dropping the line; ignore the ack.
	_, _ = p.ReleaseAll()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	err := p.disconnectLocked()
	if p.logger != nil {
		p.logger.Infof("disconnected from %s", p.portName)
	}
	return err
}

func (p *ActuationProtocol) disconnectLocked() error {
	p.connected = false
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// Drain transmits every pending servo update once. Unacknowledged commands
// are skipped and retried on the next drain; a link failure is returned to
// the caller.
func (p *ActuationProtocol) Drain(state *ServoState) error {
	pending := state.GetPendingUpdates()
	if len(pending) == 0 {
		return nil
	}

	channels := make([]int, 0, len(pending))
	for ch := range pending {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	for _, ch := range channels {
		angle := pending[ch]
		acked, err := p.SetServo(ch, angle)
		if err != nil {
			return err
		}
		if acked {
			state.MarkAsSent(ch, angle)
		}
	}
	return nil
}

// RunPump drains the servo state at the given interval until the context
// is cancelled or the link fails. Intended to run on its own goroutine via
// goutils.PanicCapturingGo.
func (p *ActuationProtocol) RunPump(ctx context.Context, state *ServoState, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	for {
		if !goutils.SelectContextOrWait(ctx, interval) {
			return ctx.Err()
		}
		if err := p.Drain(state); err != nil {
			if p.logger != nil {
				p.logger.Warnf("actuation pump stopping: %v", err)
			}
			return err
		}
	}
}
