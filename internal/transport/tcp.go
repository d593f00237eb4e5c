package transport

import (
	"fmt"
	"net"
	"time"
)

// TCPTransport implements Transport over TCP — useful for flight-controller
// simulators and TCP-to-serial bridge rigs that expose MSP over a socket
// instead of a real UART (§6, "any bidirectional byte stream").
type TCPTransport struct {
	host        string
	port        int
	dialTimeout time.Duration
	conn        net.Conn
}

// NewTCPTransport creates a new TCP transport.
func NewTCPTransport(host string, port int) *TCPTransport {
	return &TCPTransport{host: host, port: port, dialTimeout: 5 * time.Second}
}

// Open establishes the TCP connection.
func (tt *TCPTransport) Open() error {
	if tt.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(tt.host, fmt.Sprintf("%d", tt.port))
	conn, err := net.DialTimeout("tcp", addr, tt.dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	tt.conn = conn
	return nil
}

// Close terminates the TCP connection.
func (tt *TCPTransport) Close() error {
	if tt.conn == nil {
		return nil
	}
	err := tt.conn.Close()
	tt.conn = nil
	return err
}

// IsOpen returns true if the connection is open.
func (tt *TCPTransport) IsOpen() bool {
	return tt.conn != nil
}

// Write sends data over TCP.
func (tt *TCPTransport) Write(data []byte) (int, error) {
	if tt.conn == nil {
		return 0, ErrNotConnected
	}
	return tt.conn.Write(data)
}

// Read reads data from TCP. It blocks until data arrives or the connection
// closes.
func (tt *TCPTransport) Read(buffer []byte) (int, error) {
	if tt.conn == nil {
		return 0, ErrNotConnected
	}
	return tt.conn.Read(buffer)
}

// Type returns the transport type identifier.
func (tt *TCPTransport) Type() string {
	return "tcp"
}

// Address returns the full address string.
func (tt *TCPTransport) Address() string {
	return net.JoinHostPort(tt.host, fmt.Sprintf("%d", tt.port))
}
