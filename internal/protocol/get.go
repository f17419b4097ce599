package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
)

// Message is one record decoded from a value frame
type Message struct {
	ID      int64
	Flag    int32
	Payload []byte
}

// GetResult is the decoded response to a get
type GetResult struct {
	// Status is set for result frames; value frames leave it zero
	Status         int
	Messages       []Message
	BytesConsumed  int64
	Redirected     bool
	RedirectOffset int64
}

// EncodeGet builds
//
//	get <topic> <group> <partition> <offset> <maxLen> 0\r\n
func EncodeGet(topic, group string, partition int, offset int64) []byte {
	return []byte(fmt.Sprintf("%s %s %s %d %d %d 0%s",
		GetCommand, topic, group, partition, offset, MaxMessageLength, LineTerminator))
}

// DecodeGetResult decodes the response to a get.
//
// A value frame yields the records that pass their CRC check, in order, up to
// the first bad or truncated one. "result 301" is a redirect whose body is
// the offset to resume from. Other result statuses mean no data is ready.
func DecodeGetResult(frame []byte) (GetResult, error) {
	h, body, err := SplitFrame(frame)
	if err != nil {
		return GetResult{}, err
	}

	switch h.Command {
	case ValueCommand:
		msgs, consumed := DecodeRecords(body)
		return GetResult{Messages: msgs, BytesConsumed: int64(consumed)}, nil
	case ResultCommand:
		if h.Status != StatusMoved {
			return GetResult{Status: h.Status}, nil
		}
		text := strings.TrimSpace(string(body))
		offset, err := strconv.ParseInt(text, 10, 64)
		if err != nil || offset < 0 {
			return GetResult{}, typederrors.Newf(typederrors.ProtocolDecodeError,
				"invalid redirect offset %q", text)
		}
		return GetResult{Status: StatusMoved, Redirected: true, RedirectOffset: offset}, nil
	default:
		return GetResult{}, typederrors.Newf(typederrors.ProtocolDecodeError,
			"unexpected get response %q", h.Command)
	}
}

// DecodeRecords walks a sequence of records and returns those before the
// first truncated or CRC-mismatched one, plus the number of bytes they span.
func DecodeRecords(body []byte) ([]Message, int) {
	var msgs []Message
	consumed := 0
	for len(body)-consumed >= RecordHeaderSize {
		rec := body[consumed:]
		length := int(binary.BigEndian.Uint32(rec[0:4]))
		crc := binary.BigEndian.Uint32(rec[4:8])
		id := int64(binary.BigEndian.Uint64(rec[8:16]))
		flag := int32(binary.BigEndian.Uint32(rec[16:20]))

		if length > len(rec)-RecordHeaderSize {
			break
		}
		payload := rec[RecordHeaderSize : RecordHeaderSize+length]
		if Checksum(payload) != crc {
			break
		}

		msgs = append(msgs, Message{
			ID:      id,
			Flag:    flag,
			Payload: append([]byte(nil), payload...),
		})
		consumed += RecordHeaderSize + length
	}
	return msgs, consumed
}

// Checksum is the masked CRC32 stored in record headers
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload) & CRCMask
}

// EncodeRecord lays out one record as a broker stores and serves it.
// The id is written as two big-endian 32-bit words, high word first.
func EncodeRecord(id int64, flag int32, payload []byte) []byte {
	rec := make([]byte, RecordHeaderSize+len(payload))
	binary.BigEndian.PutUint32(rec[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(rec[4:8], Checksum(payload))
	binary.BigEndian.PutUint32(rec[8:12], uint32(uint64(id)>>32))
	binary.BigEndian.PutUint32(rec[12:16], uint32(uint64(id)))
	binary.BigEndian.PutUint32(rec[16:20], uint32(flag))
	copy(rec[RecordHeaderSize:], payload)
	return rec
}

// EncodeCommitOffset builds
//
//	offset <topic> <group> <partition> <offset>\r\n
func EncodeCommitOffset(topic, group string, partition int, offset int64) []byte {
	return []byte(fmt.Sprintf("%s %s %s %d %d%s",
		OffsetCommand, topic, group, partition, offset, LineTerminator))
}
