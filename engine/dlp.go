package engine

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.bug.st/serial"
)

// DLPIO8G drives a DLP-IO8-G USB I/O box as a trigger channel. Each trigger code
// pulses one output line.
type DLPIO8G struct {
	port       serial.Port
	lines      map[int]string
	PulseWidth time.Duration
}

// DefaultTriggerLines maps stage trigger codes to DLP-IO8-G lines.
var DefaultTriggerLines = map[int]string{
	int(TriggerBlank):    "1",
	int(TriggerFixation): "2",
	int(TriggerDecision): "3",
}

func NewDLPIO8G(device string, baudrate int) (*DLPIO8G, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open DLP device", goerr.Value("device", device))
	}
	if err := port.SetReadTimeout(time.Second); err != nil {
		port.Close()
		return nil, goerr.Wrap(err, "failed to set DLP read timeout", goerr.Value("device", device))
	}

	d := &DLPIO8G{port: port, lines: DefaultTriggerLines, PulseWidth: 5 * time.Millisecond}

	if !d.Ping() {
		port.Close()
		return nil, goerr.New("device did not respond to ping correctly", goerr.Value("device", device))
	}

	// Binary mode
	if _, err := port.Write([]byte{0x5C}); err != nil {
		port.Close()
		return nil, goerr.Wrap(err, "failed to switch DLP to binary mode", goerr.Value("device", device))
	}

	return d, nil
}

func (d *DLPIO8G) Close() {
	if d.port != nil {
		d.port.Close()
	}
}

func (d *DLPIO8G) Ping() bool {
	_, err := d.port.Write([]byte{0x27}) // '
	if err != nil {
		return false
	}

	buf := make([]byte, 1)
	n, err := d.port.Read(buf)
	return err == nil && n == 1 && buf[0] == 'Q'
}

func (d *DLPIO8G) Set(lines string) error {
	if _, err := d.port.Write([]byte(lines)); err != nil {
		return goerr.Wrap(err, "write error in dlp Set", goerr.Value("lines", lines))
	}
	return nil
}

func (d *DLPIO8G) Unset(lines string) error {
	if _, err := d.port.Write(unsetCommand(lines)); err != nil {
		return goerr.Wrap(err, "write error in dlp Unset", goerr.Value("lines", lines))
	}
	return nil
}

// Trigger pulses the line mapped to code.
func (d *DLPIO8G) Trigger(code int) error {
	line, ok := d.lines[code]
	if !ok {
		return goerr.New("no DLP line for trigger code", goerr.Value("code", code))
	}
	if err := d.Set(line); err != nil {
		return err
	}
	time.Sleep(d.PulseWidth)
	return d.Unset(line)
}

// unsetCommand turns set commands ('1'..'8') into the matching clear commands.
func unsetCommand(lines string) []byte {
	cmd := []byte(lines)
	for i := range cmd {
		switch cmd[i] {
		case '1':
			cmd[i] = 'Q'
		case '2':
			cmd[i] = 'W'
		case '3':
			cmd[i] = 'E'
		case '4':
			cmd[i] = 'R'
		case '5':
			cmd[i] = 'T'
		case '6':
			cmd[i] = 'Y'
		case '7':
			cmd[i] = 'U'
		case '8':
			cmd[i] = 'I'
		}
	}
	return cmd
}
