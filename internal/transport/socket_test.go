package transport

import (
	"bufio"
	"net"
	"testing"
	"time"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts one connection, reads one request line and answers with
// reply. It returns the listener address.
func serveOnce(t *testing.T, reply []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		if _, err := r.ReadBytes('\n'); err != nil {
			return
		}
		if reply != nil {
			conn.Write(reply)
		}
		// hold the connection open until the client goes away
		r.ReadBytes('\n')
	}()
	return ln.Addr().String()
}

func closedPort(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestSocketConnectFailure(t *testing.T) {
	s := NewSocket(closedPort(t), Config{ConnectTimeout: 200 * time.Millisecond})

	err := s.Connect()
	require.Error(t, err)
	assert.Equal(t, typederrors.ConnectionError, typederrors.GetErrorType(err))
	assert.False(t, s.Active())

	err = s.Write([]byte("get t g 0 0 102400 0\r\n"))
	assert.Equal(t, typederrors.ConnectionError, typederrors.GetErrorType(err))
}

func TestSocketReadFrameWithEmbeddedTerminators(t *testing.T) {
	body := append(protocol.EncodeRecord(1, 0, []byte("line1\r\nline2")),
		protocol.EncodeRecord(2, 0, []byte("\r\n"))...)
	reply := protocol.EncodeValue(body)
	addr := serveOnce(t, reply)

	s := NewSocket(addr, Config{IOTimeout: time.Second})
	require.NoError(t, s.Connect())
	defer s.Close()
	assert.True(t, s.Active())
	assert.Equal(t, addr, s.Addr())

	require.NoError(t, s.Write(protocol.EncodeGet("t1", "g", 0, 0)))
	frame, err := s.ReadFrame(protocol.MaxMessageLength)
	require.NoError(t, err)
	assert.Equal(t, reply, frame)

	res, err := protocol.DecodeGetResult(frame)
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "line1\r\nline2", string(res.Messages[0].Payload))
}

func TestSocketReadTimeoutMarksInactive(t *testing.T) {
	addr := serveOnce(t, nil)

	s := NewSocket(addr, Config{IOTimeout: 100 * time.Millisecond})
	require.NoError(t, s.Connect())

	require.NoError(t, s.Write(protocol.EncodeGet("t1", "g", 0, 0)))
	_, err := s.ReadFrame(protocol.MaxMessageLength)
	require.Error(t, err)
	assert.Equal(t, typederrors.ConnectionError, typederrors.GetErrorType(err))
	assert.False(t, s.Active())
}

func TestSocketRejectsOversizedFrame(t *testing.T) {
	addr := serveOnce(t, []byte("value 999999 0\r\n"))

	s := NewSocket(addr, Config{IOTimeout: time.Second})
	require.NoError(t, s.Connect())

	require.NoError(t, s.Write(protocol.EncodeGet("t1", "g", 0, 0)))
	_, err := s.ReadFrame(1024)
	assert.Equal(t, typederrors.ProtocolDecodeError, typederrors.GetErrorType(err))
	assert.False(t, s.Active())
}

func TestSocketReadLine(t *testing.T) {
	addr := serveOnce(t, protocol.EncodeResult(protocol.StatusSuccess, []byte("1 0 26")))

	s := NewSocket(addr, Config{IOTimeout: time.Second})
	require.NoError(t, s.Connect())
	defer s.Close()

	require.NoError(t, s.Write(protocol.EncodePut("t1", 0, []byte("x"), 0)))
	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "result 200 6 0\r\n", string(line))
}

func TestSocketCloseIsIdempotent(t *testing.T) {
	s := NewSocket("127.0.0.1:1", Config{})
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.False(t, s.Active())
}

func TestSocketWriteTimeoutMarksInactive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	// accept and never read, so the client's send buffer fills up
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		select {
		case conn := <-accepted:
			conn.Close()
		default:
		}
	})

	s := NewSocket(ln.Addr().String(), Config{IOTimeout: 100 * time.Millisecond})
	require.NoError(t, s.Connect())

	err = s.Write(make([]byte, 64<<20))
	require.Error(t, err)
	assert.Equal(t, typederrors.ConnectionError, typederrors.GetErrorType(err))
	assert.False(t, s.Active())

	err = s.Write([]byte("get t g 0 0 102400 0\r\n"))
	assert.Equal(t, typederrors.ConnectionError, typederrors.GetErrorType(err))
}
