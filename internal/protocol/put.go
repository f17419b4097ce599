package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
)

// PutResult is the broker's acknowledgment of a put
type PutResult struct {
	Status       int
	ID           int64
	Code         int
	Offset       int64
	ErrorMessage string
}

// Pending is returned for async puts that were written but not acknowledged
var Pending = PutResult{Status: 0, ID: -1, Code: 0, Offset: -1}

// Err returns a BrokerReportedError when the broker acknowledged the put
// with an error status.
func (r PutResult) Err() error {
	if r.Status == StatusSuccess || r.Status == 0 {
		return nil
	}
	return typederrors.Newf(typederrors.BrokerReportedError,
		"broker reported %d %s: %s", r.Status, GetStatusName(r.Status), r.ErrorMessage)
}

// EncodePut builds
//
//	put <topic> <partition> <len> <flag> <version>\r\n<payload>
//
// Nothing follows the payload. Callers reject payloads longer than
// MaxMessageLength before encoding.
func EncodePut(topic string, partition int, payload []byte, flag int32) []byte {
	var buf bytes.Buffer
	buf.Grow(len(topic) + len(payload) + 32)
	fmt.Fprintf(&buf, "%s %s %d %d %d %d%s", PutCommand, topic, partition, len(payload), flag, RequestVersion, LineTerminator)
	buf.Write(payload)
	return buf.Bytes()
}

// DecodePutResult decodes the response to a put.
//
// 200 carries "id code offset". 404 and 500 are well-formed failures whose
// payload is the broker's message: they decode without error and PutResult.Err
// reports them. Anything else is malformed.
func DecodePutResult(frame []byte) (PutResult, error) {
	res, err := DecodeResult(frame)
	if err != nil {
		return PutResult{}, err
	}

	payload := strings.TrimRight(string(res.Body), LineTerminator)
	switch res.Status {
	case StatusSuccess:
		fields := strings.Fields(payload)
		if len(fields) != 3 {
			return PutResult{}, typederrors.Newf(typederrors.ProtocolDecodeError,
				"put result payload %q is not an id/code/offset triplet", payload)
		}
		id, err1 := strconv.ParseInt(fields[0], 10, 64)
		code, err2 := strconv.Atoi(fields[1])
		offset, err3 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return PutResult{}, typederrors.Newf(typederrors.ProtocolDecodeError,
				"put result payload %q has non-numeric fields", payload)
		}
		return PutResult{Status: StatusSuccess, ID: id, Code: code, Offset: offset}, nil
	case StatusNotFound, StatusInternalServerError:
		if payload == "" {
			payload = GetStatusName(res.Status)
		}
		return PutResult{Status: res.Status, ErrorMessage: payload}, nil
	default:
		return PutResult{}, typederrors.Newf(typederrors.ProtocolDecodeError,
			"unexpected put result status %d", res.Status)
	}
}

// EncodePutResult builds the 200 acknowledgment a broker sends for a put
func EncodePutResult(id int64, code int, offset int64) []byte {
	return EncodeResult(StatusSuccess, []byte(fmt.Sprintf("%d %d %d", id, code, offset)))
}
