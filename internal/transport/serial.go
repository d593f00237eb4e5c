package transport

import (
	"fmt"

	"github.com/tarm/serial"
)

// SerialTransport implements Transport over a real serial port (UART,
// USB-CDC) — the transport MSP normally runs over.
type SerialTransport struct {
	port     string
	baudRate int
	conn     *serial.Port
}

// SerialConfig holds serial port configuration.
type SerialConfig struct {
	Port     string
	BaudRate int
}

// DefaultSerialConfig returns default serial configuration.
func DefaultSerialConfig() *SerialConfig {
	return &SerialConfig{
		Port:     "/dev/ttyACM0",
		BaudRate: 115200,
	}
}

// NewSerialTransport creates a new serial transport.
func NewSerialTransport(port string, baudRate int) *SerialTransport {
	return &SerialTransport{port: port, baudRate: baudRate}
}

// Open establishes the serial connection.
func (st *SerialTransport) Open() error {
	if st.conn != nil {
		return nil
	}

	c := &serial.Config{
		Name:     st.port,
		Baud:     st.baudRate,
		Size:     8,
		Parity:   serial.ParityNone,
		StopBits: serial.Stop1,
		// No ReadTimeout: the dispatcher owns blocking-read semantics (§5);
		// a transport-level timeout would just turn into spurious zero-byte
		// reads the dispatcher would have to loop around.
	}

	port, err := serial.OpenPort(c)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", st.port, err)
	}

	st.conn = port
	return nil
}

// Close terminates the serial connection.
func (st *SerialTransport) Close() error {
	if st.conn == nil {
		return nil
	}
	err := st.conn.Close()
	st.conn = nil
	return err
}

// IsOpen returns true if the connection is open.
func (st *SerialTransport) IsOpen() bool {
	return st.conn != nil
}

// Write sends data over the serial port.
func (st *SerialTransport) Write(data []byte) (int, error) {
	if st.conn == nil {
		return 0, ErrNotConnected
	}
	return st.conn.Write(data)
}

// Read reads data from the serial port. It blocks until at least one byte
// is available or the port is closed.
func (st *SerialTransport) Read(buffer []byte) (int, error) {
	if st.conn == nil {
		return 0, ErrNotConnected
	}
	return st.conn.Read(buffer)
}

// Type returns the transport type identifier.
func (st *SerialTransport) Type() string {
	return "serial"
}

// Port returns the serial port path.
func (st *SerialTransport) Port() string {
	return st.port
}

// BaudRate returns the baud rate.
func (st *SerialTransport) BaudRate() int {
	return st.baudRate
}

// Flush clears any buffered data.
func (st *SerialTransport) Flush() error {
	if st.conn == nil {
		return ErrNotConnected
	}
	return st.conn.Flush()
}
