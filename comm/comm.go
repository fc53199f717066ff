/*Package comm provides an embeddable serial link for line-oriented command
consoles that answer with a prompt.

Most usages of this package will boil down to:
	1.  embed *RemoteDevice in a type that represents your hardware.
	2.  set TxTerm and Prompt if the defaults ("\r\n" and "fli-cli>") are
		not right for the device.
	3.  write methods that turn SendRecv responses into values.

A minimal example for a console that answers "fps raw" with a number:

	type MyCamera struct {
		*comm.RemoteDevice
	}

	func (mc *MyCamera) FPS() (float64, error) {
		resp, err := mc.SendRecv([]byte("fps raw"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(strings.TrimSpace(string(resp)), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const (
	// DefaultBaud is the console baud rate of FLI cameras
	DefaultBaud = 115200

	// DefaultReadTimeout bounds each read from the port
	DefaultReadTimeout = time.Second
)

var (
	// DefaultTxTerm terminates every command sent
	DefaultTxTerm = []byte("\r\n")

	// DefaultPrompt ends every response
	DefaultPrompt = []byte("fli-cli>")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrPromptNotFound is generated when the link goes quiet before the prompt arrives
	ErrPromptNotFound = errors.New("prompt not found in response")
)

/*RemoteDevice is a serial port that speaks a prompt-terminated protocol.

SendRecv is concurrent-safe; commands are answered in the order they are
sent.
*/
type RemoteDevice struct {
	Addr        string
	Baud        int
	ReadTimeout time.Duration
	TxTerm      []byte
	Prompt      []byte

	Conn io.ReadWriteCloser

	mu sync.Mutex
	rd *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice on the serial port addr with
// the default settings (115200 8N1)
func NewRemoteDevice(addr string) *RemoteDevice {
	return &RemoteDevice{
		Addr:        addr,
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
		TxTerm:      DefaultTxTerm,
		Prompt:      DefaultPrompt}
}

// SerialConf yields a pointer to a serial config object for use with serial.OpenPort
func (rd *RemoteDevice) SerialConf() *serial.Config {
	return &serial.Config{
		Name:        rd.Addr,
		Baud:        rd.Baud,
		ReadTimeout: rd.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1}
}

// Connected reports if Conn is set
func (rd *RemoteDevice) Connected() bool {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.Conn != nil
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// a freshly enumerated USB tty can take a moment to accept an open,
	// so retry with an exponential backoff
	var last error
	op := func() error {
		conn, err := serial.OpenPort(rd.SerialConf())
		if err != nil {
			last = err
			if strings.Contains(strings.ToLower(err.Error()), "no such file") {
				return backoff.Permanent(err)
			}
			return err
		}
		rd.Attach(conn)
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if last == nil {
		last = err
	}
	return errors.Wrap(last, fmt.Sprintf("opening %s", rd.Addr))
}

// Attach uses conn as the link, for ports opened elsewhere
func (rd *RemoteDevice) Attach(conn io.ReadWriteCloser) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.Conn = conn
	rd.rd = bufio.NewReader(conn)
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.rd = nil
	}
	return err
}

func (rd *RemoteDevice) txTerm() []byte {
	if rd.TxTerm == nil {
		return DefaultTxTerm
	}
	return rd.TxTerm
}

func (rd *RemoteDevice) prompt() []byte {
	if len(rd.Prompt) == 0 {
		return DefaultPrompt
	}
	return rd.Prompt
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	term := rd.txTerm()
	msg := make([]byte, 0, len(b)+len(term))
	msg = append(append(msg, b...), term...)
	_, err := rd.Conn.Write(msg)
	return err
}

// recv reads until the prompt and returns what came before it
func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	prompt := rd.prompt()
	var buf []byte
	for {
		c, err := rd.rd.ReadByte()
		if err != nil {
			if err == io.EOF {
				return buf, ErrPromptNotFound
			}
			return buf, err
		}
		buf = append(buf, c)
		if bytes.HasSuffix(buf, prompt) {
			return buf[:len(buf)-len(prompt)], nil
		}
	}
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.send(b)
}

// Recv reads from the remote until the prompt and returns the response
// without it
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.recv()
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the prompt stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}
