package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrSelectionAborted is returned when the user leaves the device picker
// with Ctrl+C or q.
var ErrSelectionAborted = errors.New("audio: device selection aborted")

// SelectDevice asks the user to pick a capture device on the terminal.
// A single device is returned without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices found", ErrHardwareUnavailable)
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &devices[0], nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	return pickDevice(os.Stdin, os.Stdout, devices)
}

// pickDevice runs the picker over raw terminal input. Arrow keys or j/k move,
// Enter confirms.
func pickDevice(r io.Reader, w io.Writer, devices []DeviceInfo) (*DeviceInfo, error) {
	cursor := 0
	render := func() {
		fmt.Fprint(w, "\r\x1b[J")
		fmt.Fprint(w, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
		for i, d := range devices {
			tag := ""
			if IsBluetooth(d.Name) {
				tag = " \x1b[33m[bluetooth: lower quality]\x1b[0m"
			}
			if i == cursor {
				fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
			} else {
				fmt.Fprintf(w, "    %s%s\r\n", d.Name, tag)
			}
		}
	}
	move := func(delta int) {
		cursor = min(max(cursor+delta, 0), len(devices)-1)
	}

	render()
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrSelectionAborted
			}
			return nil, fmt.Errorf("reading input: %w", err)
		}

		switch {
		case n == 1 && (buf[0] == '\r' || buf[0] == '\n'):
			fmt.Fprint(w, "\r\n")
			return &devices[cursor], nil
		case n == 1 && (buf[0] == 3 || buf[0] == 'q'):
			fmt.Fprint(w, "\r\n")
			return nil, ErrSelectionAborted
		case n == 1 && buf[0] == 'j':
			move(1)
		case n == 1 && buf[0] == 'k':
			move(-1)
		case n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'A':
			move(-1)
		case n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'B':
			move(1)
		default:
			continue
		}
		fmt.Fprintf(w, "\x1b[%dA", len(devices)+2)
		render()
	}
}
