package daemon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// CommandCode is the one-byte opcode that starts every companion frame.
type CommandCode uint8

const (
	CmdAppStarted    CommandCode = 1
	CmdConfigChanged CommandCode = 2
)

// MaxPackageLength bounds the AppStarted payload.
const MaxPackageLength = 255

// Protocol errors. ErrInvalidPackage and ErrInvalidPID reject one fully read
// frame; the others end the connection's command loop.
var (
	ErrShortRead       = errors.New("short read")
	ErrPayloadTooLarge = errors.New("package payload too large")
	ErrInvalidPackage  = errors.New("invalid package identity")
	ErrInvalidPID      = errors.New("pid out of range")
	ErrUnknownCommand  = errors.New("unknown command")
)

func (c CommandCode) String() string {
	switch c {
	case CmdAppStarted:
		return "app_started"
	case CmdConfigChanged:
		return "config_changed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ReadCommand reads one opcode. io.EOF means the peer closed cleanly
// between commands.
func ReadCommand(r io.Reader) (CommandCode, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("%w: command: %v", ErrShortRead, err)
	}
	return CommandCode(buf[0]), nil
}

// ReadAppStarted reads the AppStarted payload:
//
//	uint32 LE length L | L bytes package | optional uint32 LE pid
//
// Notifiers that predate the pid field stop right after the package bytes;
// EOF or a read timeout there yields PID 0. A partial pid is a short read.
func ReadAppStarted(r io.Reader) (domain.AppStarted, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return domain.AppStarted{}, fmt.Errorf("%w: length: %v", ErrShortRead, err)
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxPackageLength {
		return domain.AppStarted{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return domain.AppStarted{}, fmt.Errorf("%w: package: %v", ErrShortRead, err)
	}

	ev := domain.AppStarted{Package: string(payload)}

	var pidBuf [4]byte
	var rawPID uint32
	n, err := io.ReadFull(r, pidBuf[:])
	switch {
	case err == nil:
		rawPID = binary.LittleEndian.Uint32(pidBuf[:])
	case n == 0 && (errors.Is(err, io.EOF) || isTimeout(err)):
		// Legacy notifier without a pid.
	default:
		return domain.AppStarted{}, fmt.Errorf("%w: pid: %v", ErrShortRead, err)
	}

	// The frame is fully consumed here, so an invalid name does not
	// desynchronize the stream.
	if !domain.ValidPackage(ev.Package) {
		return domain.AppStarted{}, fmt.Errorf("%w: %q", ErrInvalidPackage, ev.Package)
	}
	// Kernel pids are positive int32 values.
	if rawPID > math.MaxInt32 {
		return domain.AppStarted{}, fmt.Errorf("%w: %d", ErrInvalidPID, rawPID)
	}
	ev.PID = int(rawPID)

	return ev, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// WriteAppStarted encodes an AppStarted frame. A pid of 0 is sent as-is
// and means "unknown" to the daemon.
func WriteAppStarted(w io.Writer, pkg string, pid int) error {
	if len(pkg) > MaxPackageLength {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(pkg))
	}
	if pid < 0 || pid > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}

	frame := make([]byte, 0, 1+4+len(pkg)+4)
	frame = append(frame, byte(CmdAppStarted))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(pkg)))
	frame = append(frame, pkg...)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(pid))

	_, err := w.Write(frame)
	return err
}

// WriteConfigChanged encodes a ConfigChanged frame.
func WriteConfigChanged(w io.Writer) error {
	_, err := w.Write([]byte{byte(CmdConfigChanged)})
	return err
}
