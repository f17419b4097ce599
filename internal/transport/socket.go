package transport

import (
	"bufio"
	"io"
	"net"
	"time"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/protocol"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultIOTimeout      = 3 * time.Second

	readBufferSize = 8192
)

// Transport is a single connection to one broker endpoint. Implementations
// block each call for at most their configured timeout and never reconnect
// on their own: after a failure Active reports false and the owner discards
// the transport.
type Transport interface {
	Connect() error
	Active() bool
	Write(data []byte) error
	ReadLine() ([]byte, error)
	// ReadFrame reads a header line and the body length it declares.
	ReadFrame(maxLen int) ([]byte, error)
	Addr() string
	Close() error
}

// Factory creates an unconnected transport for addr
type Factory func(addr string) Transport

// Config holds socket timeouts
type Config struct {
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
}

// TCPFactory returns a Factory producing TCP sockets
func TCPFactory(config Config) Factory {
	return func(addr string) Transport {
		return NewSocket(addr, config)
	}
}

// Socket is the TCP Transport
type Socket struct {
	addr           string
	connectTimeout time.Duration
	ioTimeout      time.Duration

	conn   net.Conn
	reader *bufio.Reader
	active bool
}

// NewSocket creates an unconnected socket for addr
func NewSocket(addr string, config Config) *Socket {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.IOTimeout <= 0 {
		config.IOTimeout = DefaultIOTimeout
	}
	return &Socket{
		addr:           addr,
		connectTimeout: config.ConnectTimeout,
		ioTimeout:      config.IOTimeout,
	}
}

// Connect dials the broker. On failure the socket stays inactive.
func (s *Socket) Connect() error {
	if s.active {
		return nil
	}
	conn, err := net.DialTimeout("tcp", s.addr, s.connectTimeout)
	if err != nil {
		s.active = false
		return typederrors.Wrapf(typederrors.ConnectionError, err, "can not connect to %s", s.addr)
	}
	s.conn = conn
	s.reader = bufio.NewReaderSize(conn, readBufferSize)
	s.active = true
	return nil
}

// Active reports whether the socket is connected and has not failed
func (s *Socket) Active() bool {
	return s.active
}

// Addr returns the broker endpoint
func (s *Socket) Addr() string {
	return s.addr
}

// Write writes all of data or fails. A timeout or reset leaves the socket
// inactive.
func (s *Socket) Write(data []byte) error {
	if !s.active {
		return typederrors.Newf(typederrors.ConnectionError, "write to inactive socket %s", s.addr)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.ioTimeout)); err != nil {
		return s.fail(err, "set write deadline")
	}
	for len(data) > 0 {
		n, err := s.conn.Write(data)
		if err != nil {
			return s.fail(err, "can not write to remote server")
		}
		data = data[n:]
	}
	return nil
}

// ReadLine reads one line including its terminator
func (s *Socket) ReadLine() ([]byte, error) {
	if !s.active {
		return nil, typederrors.Newf(typederrors.ConnectionError, "read from inactive socket %s", s.addr)
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.ioTimeout)); err != nil {
		return nil, s.fail(err, "set read deadline")
	}
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		return nil, s.fail(err, "can not read from remote server")
	}
	return line, nil
}

// ReadFrame reads a header line, then keeps reading until the declared body
// is buffered. The whole read shares one deadline; hitting it is fatal for
// this read and is not retried here.
func (s *Socket) ReadFrame(maxLen int) ([]byte, error) {
	head, err := s.ReadLine()
	if err != nil {
		return nil, err
	}

	h, err := protocol.ParseHeader(head)
	if err != nil {
		s.Close()
		return nil, err
	}
	if h.Length > maxLen+len(head) {
		s.Close()
		return nil, typederrors.Newf(typederrors.ProtocolDecodeError,
			"%s declares %d bytes, limit is %d", s.addr, h.Length, maxLen)
	}

	frame := make([]byte, len(head)+h.Length)
	copy(frame, head)
	if _, err := io.ReadFull(s.reader, frame[len(head):]); err != nil {
		return nil, s.fail(err, "incomplete frame from remote server")
	}
	return frame, nil
}

// Close closes the connection. It is safe to call more than once.
func (s *Socket) Close() error {
	s.active = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	return err
}

func (s *Socket) fail(err error, msg string) error {
	s.Close()
	return typederrors.Wrapf(typederrors.ConnectionError, err, "%s %s", msg, s.addr)
}
