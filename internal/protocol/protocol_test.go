package protocol

import (
	"bytes"
	"math/rand"
	"testing"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePut(t *testing.T) {
	data := EncodePut("t1", 3, []byte("hello"), 0)
	assert.Equal(t, "put t1 3 5 0 1\r\nhello", string(data))

	// bodies may carry the line terminator; the header length covers it
	data = EncodePut("t1", 0, []byte("a\r\nb"), 2)
	assert.Equal(t, "put t1 0 4 2 1\r\na\r\nb", string(data))
}

func TestEncodeGetAndOffset(t *testing.T) {
	assert.Equal(t, "get t1 g1 2 1024 102400 0\r\n", string(EncodeGet("t1", "g1", 2, 1024)))
	assert.Equal(t, "offset t1 g1 2 1024\r\n", string(EncodeCommitOffset("t1", "g1", 2, 1024)))
}

func TestPutRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sizes := []int{0, 1, 2, 100, 4096, MaxMessageLength}

	for i, size := range sizes {
		payload := make([]byte, size)
		rng.Read(payload)

		frame := EncodePut("topic", i, payload, 0)
		req, err := ParseRequest(frame[:bytes.Index(frame, []byte(LineTerminator))])
		require.NoError(t, err)
		assert.Equal(t, "topic", req.Topic)
		assert.Equal(t, i, req.Partition)
		assert.Equal(t, size, req.Length)

		body := frame[len(frame)-size:]
		assert.Equal(t, payload, body)

		id, offset := int64(1000+i), int64(size*7)
		res, err := DecodePutResult(EncodePutResult(id, 0, offset))
		require.NoError(t, err)
		assert.NoError(t, res.Err())
		assert.Equal(t, id, res.ID)
		assert.Equal(t, offset, res.Offset)
	}
}

func TestDecodePutResult(t *testing.T) {
	tests := []struct {
		name       string
		frame      string
		wantErr    bool
		wantStatus int
		brokerErr  bool
	}{
		{"success", "result 200 10 0\r\n42 0 12345", false, StatusSuccess, false},
		{"success with trailing terminator", "result 200 12 0\r\n42 0 12345\r\n", false, StatusSuccess, false},
		{"not found", "result 404 15 0\r\ntopic not found", false, StatusNotFound, true},
		{"internal error", "result 500 4 0\r\noops", false, StatusInternalServerError, true},
		{"empty error body", "result 500 0 0\r\n", false, StatusInternalServerError, true},
		{"unexpected status", "result 403 9 0\r\nforbidden", true, 0, false},
		{"bad triplet", "result 200 5 0\r\n42 0 ", true, 0, false},
		{"non numeric", "result 200 5 0\r\na b c", true, 0, false},
		{"no terminator", "result 200 11 0", true, 0, false},
		{"value frame", "value 0 0\r\n", true, 0, false},
		{"garbage", "hello\r\nworld", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodePutResult([]byte(tt.frame))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, typederrors.ProtocolDecodeError, typederrors.GetErrorType(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			if tt.brokerErr {
				assert.NotEmpty(t, res.ErrorMessage)
				assert.Equal(t, typederrors.BrokerReportedError, typederrors.GetErrorType(res.Err()))
			} else {
				assert.NoError(t, res.Err())
			}
		})
	}
}

func TestDecodeGetResultMessages(t *testing.T) {
	body := append(EncodeRecord(1, 0, []byte("hello1")), EncodeRecord(2, 0, []byte("multi\r\nline"))...)

	res, err := DecodeGetResult(EncodeValue(body))
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "hello1", string(res.Messages[0].Payload))
	assert.Equal(t, int64(1), res.Messages[0].ID)
	assert.Equal(t, "multi\r\nline", string(res.Messages[1].Payload))
	assert.Equal(t, int64(len(body)), res.BytesConsumed)
	assert.False(t, res.Redirected)
}

func TestDecodeGetResultCRCGate(t *testing.T) {
	good1 := EncodeRecord(10, 0, []byte("first"))
	good2 := EncodeRecord(11, 0, []byte("second"))
	bad := EncodeRecord(12, 0, []byte("corrupted"))
	bad[RecordHeaderSize] ^= 0xFF
	after := EncodeRecord(13, 0, []byte("never seen"))

	var body []byte
	for _, rec := range [][]byte{good1, good2, bad, after} {
		body = append(body, rec...)
	}

	res, err := DecodeGetResult(EncodeValue(body))
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, int64(10), res.Messages[0].ID)
	assert.Equal(t, int64(11), res.Messages[1].ID)
	assert.Equal(t, int64(len(good1)+len(good2)), res.BytesConsumed)
}

func TestDecodeRecordsPartialFrame(t *testing.T) {
	rec := EncodeRecord(7, 0, []byte("complete"))
	partial := EncodeRecord(8, 0, []byte("cut short"))

	body := append(append([]byte(nil), rec...), partial[:len(partial)-3]...)
	msgs, consumed := DecodeRecords(body)
	require.Len(t, msgs, 1)
	assert.Equal(t, len(rec), consumed)

	// shorter than a record header
	msgs, consumed = DecodeRecords(rec[:RecordHeaderSize-1])
	assert.Empty(t, msgs)
	assert.Zero(t, consumed)
}

func TestEncodeRecordLayout(t *testing.T) {
	id := int64(0x0102030405060708)
	rec := EncodeRecord(id, 5, []byte("abc"))

	require.Len(t, rec, RecordHeaderSize+3)
	assert.Equal(t, []byte{0, 0, 0, 3}, rec[0:4])
	assert.Equal(t, []byte{1, 2, 3, 4}, rec[8:12])
	assert.Equal(t, []byte{5, 6, 7, 8}, rec[12:16])
	assert.Equal(t, []byte{0, 0, 0, 5}, rec[16:20])

	msgs, _ := DecodeRecords(rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, int32(5), msgs[0].Flag)
	assert.Zero(t, Checksum(rec[RecordHeaderSize:])&^CRCMask)
}

func TestDecodeGetResultRedirect(t *testing.T) {
	res, err := DecodeGetResult(EncodeResult(StatusMoved, []byte("500")))
	require.NoError(t, err)
	assert.True(t, res.Redirected)
	assert.Equal(t, int64(500), res.RedirectOffset)
	assert.Empty(t, res.Messages)

	_, err = DecodeGetResult(EncodeResult(StatusMoved, []byte("soon")))
	assert.Equal(t, typederrors.ProtocolDecodeError, typederrors.GetErrorType(err))
}

func TestDecodeGetResultNoData(t *testing.T) {
	res, err := DecodeGetResult(EncodeResult(StatusNotFound, []byte("no messages")))
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Empty(t, res.Messages)
	assert.False(t, res.Redirected)

	res, err = DecodeGetResult(EncodeValue(nil))
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
	assert.Zero(t, res.BytesConsumed)
}

func TestDecodeGetResultMalformed(t *testing.T) {
	for _, frame := range []string{"", "value", "value x 0\r\n", "put t 0 1 0 1\r\nx", "result abc 0 0\r\n"} {
		_, err := DecodeGetResult([]byte(frame))
		assert.Error(t, err, "frame %q", frame)
	}
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader([]byte("result 301 3 0\r\n"))
	require.NoError(t, err)
	assert.Equal(t, ResultCommand, h.Command)
	assert.Equal(t, StatusMoved, h.Status)
	assert.Equal(t, 3, h.Length)

	h, err = ParseHeader([]byte("value 120 99"))
	require.NoError(t, err)
	assert.Equal(t, ValueCommand, h.Command)
	assert.Equal(t, 120, h.Length)

	_, err = ParseHeader([]byte("value -1 0"))
	assert.Error(t, err)
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest(EncodeGet("t1", "g", 1, 77))
	require.NoError(t, err)
	assert.Equal(t, Request{Command: GetCommand, Topic: "t1", Group: "g", Partition: 1, Offset: 77, MaxLen: MaxMessageLength}, req)

	req, err = ParseRequest(EncodeCommitOffset("t1", "g", 2, 9))
	require.NoError(t, err)
	assert.Equal(t, Request{Command: OffsetCommand, Topic: "t1", Group: "g", Partition: 2, Offset: 9}, req)

	_, err = ParseRequest([]byte("put t1 x 1 0 1\r\n"))
	assert.Error(t, err)
	_, err = ParseRequest([]byte("stats\r\n"))
	assert.Error(t, err)
}

func TestStatusNames(t *testing.T) {
	assert.Equal(t, "MOVED", GetStatusName(StatusMoved))
	assert.Equal(t, "UNKNOWN_STATUS", GetStatusName(999))
}
