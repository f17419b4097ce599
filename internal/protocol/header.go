package protocol

import (
	"bytes"
	"strconv"
	"strings"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
)

// Header is a parsed response header line.
//
//	value <len> <opaque>
//	result <status> <len> <opaque>
type Header struct {
	Command string
	Status  int
	Length  int
	Fields  []string
}

// ParseHeader parses a response header line, with or without its line
// terminator.
func ParseHeader(line []byte) (Header, error) {
	text := strings.TrimRight(string(line), LineTerminator)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Header{}, typederrors.Newf(typederrors.ProtocolDecodeError, "empty header line")
	}

	h := Header{Command: fields[0], Fields: fields}
	var err error
	switch h.Command {
	case ValueCommand:
		if len(fields) < 2 {
			return Header{}, typederrors.Newf(typederrors.ProtocolDecodeError, "short value header %q", text)
		}
		if h.Length, err = strconv.Atoi(fields[1]); err != nil || h.Length < 0 {
			return Header{}, typederrors.Newf(typederrors.ProtocolDecodeError, "invalid value length in %q", text)
		}
	case ResultCommand:
		if len(fields) < 3 {
			return Header{}, typederrors.Newf(typederrors.ProtocolDecodeError, "short result header %q", text)
		}
		if h.Status, err = strconv.Atoi(fields[1]); err != nil {
			return Header{}, typederrors.Newf(typederrors.ProtocolDecodeError, "invalid status in %q", text)
		}
		if h.Length, err = strconv.Atoi(fields[2]); err != nil || h.Length < 0 {
			return Header{}, typederrors.Newf(typederrors.ProtocolDecodeError, "invalid result length in %q", text)
		}
	default:
		return Header{}, typederrors.Newf(typederrors.ProtocolDecodeError, "unknown response command %q", h.Command)
	}
	return h, nil
}

// SplitFrame splits a frame on its first line terminator. The body is
// length-driven from here on: it may itself contain "\r\n".
func SplitFrame(frame []byte) (Header, []byte, error) {
	idx := bytes.Index(frame, []byte(LineTerminator))
	if idx < 0 {
		return Header{}, nil, typederrors.Newf(typederrors.ProtocolDecodeError,
			"incomplete response, no header terminator in %d bytes", len(frame))
	}

	h, err := ParseHeader(frame[:idx])
	if err != nil {
		return Header{}, nil, err
	}

	body := frame[idx+len(LineTerminator):]
	if len(body) > h.Length {
		body = body[:h.Length]
	}
	return h, body, nil
}

// Result is a decoded result frame
type Result struct {
	Status int
	Body   []byte
}

// DecodeResult decodes any result frame without interpreting the body
func DecodeResult(frame []byte) (Result, error) {
	h, body, err := SplitFrame(frame)
	if err != nil {
		return Result{}, err
	}
	if h.Command != ResultCommand {
		return Result{}, typederrors.Newf(typederrors.ProtocolDecodeError,
			"expected result frame, got %q", h.Command)
	}
	return Result{Status: h.Status, Body: body}, nil
}

// EncodeResult builds a result frame. Brokers send these; the client uses it
// in test brokers.
func EncodeResult(status int, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(ResultCommand)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(status))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteString(" 0")
	buf.WriteString(LineTerminator)
	buf.Write(body)
	return buf.Bytes()
}

// EncodeValue builds a value frame around a sequence of encoded records
func EncodeValue(body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(ValueCommand)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteString(" 0")
	buf.WriteString(LineTerminator)
	buf.Write(body)
	return buf.Bytes()
}
