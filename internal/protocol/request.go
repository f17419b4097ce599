package protocol

import (
	"strconv"
	"strings"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
)

// Request is a parsed request header line. Only the fields that apply to the
// command are set. The client never parses requests; test brokers do.
type Request struct {
	Command   string
	Topic     string
	Group     string
	Partition int
	Offset    int64
	Length    int
	Flag      int32
	MaxLen    int
}

// ParseRequest parses the header line of a put, get or offset request
func ParseRequest(line []byte) (Request, error) {
	fields := strings.Fields(strings.TrimRight(string(line), LineTerminator))
	if len(fields) == 0 {
		return Request{}, typederrors.Newf(typederrors.ProtocolDecodeError, "empty request line")
	}

	req := Request{Command: fields[0]}
	nums := func(from int) ([]int64, error) {
		out := make([]int64, 0, len(fields)-from)
		for _, f := range fields[from:] {
			n, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, typederrors.Newf(typederrors.ProtocolDecodeError, "non-numeric field %q in %s request", f, req.Command)
			}
			out = append(out, n)
		}
		return out, nil
	}

	switch req.Command {
	case PutCommand:
		// put <topic> <partition> <len> <flag> <version>
		if len(fields) != 6 {
			return Request{}, typederrors.Newf(typederrors.ProtocolDecodeError, "put expects 5 arguments, got %d", len(fields)-1)
		}
		n, err := nums(2)
		if err != nil {
			return Request{}, err
		}
		req.Topic = fields[1]
		req.Partition, req.Length, req.Flag = int(n[0]), int(n[1]), int32(n[2])
	case GetCommand:
		// get <topic> <group> <partition> <offset> <maxLen> <opaque>
		if len(fields) != 7 {
			return Request{}, typederrors.Newf(typederrors.ProtocolDecodeError, "get expects 6 arguments, got %d", len(fields)-1)
		}
		n, err := nums(3)
		if err != nil {
			return Request{}, err
		}
		req.Topic, req.Group = fields[1], fields[2]
		req.Partition, req.Offset, req.MaxLen = int(n[0]), n[1], int(n[2])
	case OffsetCommand:
		// offset <topic> <group> <partition> <offset>
		if len(fields) != 5 {
			return Request{}, typederrors.Newf(typederrors.ProtocolDecodeError, "offset expects 4 arguments, got %d", len(fields)-1)
		}
		n, err := nums(3)
		if err != nil {
			return Request{}, err
		}
		req.Topic, req.Group = fields[1], fields[2]
		req.Partition, req.Offset = int(n[0]), n[1]
	default:
		return Request{}, typederrors.Newf(typederrors.ProtocolDecodeError, "unknown request command %q", req.Command)
	}
	return req, nil
}
