package testutil

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/issac1998/go-metaq/internal/protocol"
)

// MockBroker is an in-process broker speaking the MetaQ text protocol over
// loopback TCP. Each partition is an append-only byte log of records.
type MockBroker struct {
	listener net.Listener

	mu        sync.Mutex
	logs      map[string][]byte
	redirects map[string]int64
	offsets   map[string]int64
	requests  []protocol.Request
	putStatus int
	garbled   int
	nextID    int64
	conns     map[net.Conn]struct{}
	closed    bool

	wg sync.WaitGroup
}

func logKey(topic string, partition int) string {
	return topic + "/" + strconv.Itoa(partition)
}

// NewMockBroker starts a broker on a random loopback port
func NewMockBroker() (*MockBroker, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %v", err)
	}
	b := &MockBroker{
		listener:  l,
		logs:      make(map[string][]byte),
		redirects: make(map[string]int64),
		offsets:   make(map[string]int64),
		conns:     make(map[net.Conn]struct{}),
		nextID:    1,
	}
	b.wg.Add(1)
	go b.accept()
	return b, nil
}

// Addr returns host:port
func (b *MockBroker) Addr() string {
	return b.listener.Addr().String()
}

// URI returns the registry form "meta://host:port"
func (b *MockBroker) URI() string {
	return "meta://" + b.Addr()
}

// Host and Port of the listener
func (b *MockBroker) Host() string {
	return b.listener.Addr().(*net.TCPAddr).IP.String()
}

func (b *MockBroker) Port() int {
	return b.listener.Addr().(*net.TCPAddr).Port
}

// SetPutStatus makes every put answer with status instead of storing the
// message. Zero restores normal behavior.
func (b *MockBroker) SetPutStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putStatus = status
}

// GarblePutAcks answers the next n puts with a malformed acknowledgment
// and drops their messages.
func (b *MockBroker) GarblePutAcks(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.garbled = n
}

// Redirect answers the next get on the partition with a 301 to offset
func (b *MockBroker) Redirect(topic string, partition int, offset int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redirects[logKey(topic, partition)] = offset
}

// Append stores a message as if it had been put and returns its offset
func (b *MockBroker) Append(topic string, partition int, payload []byte, flag int32) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	offset, _ := b.append(topic, partition, payload, flag)
	return offset
}

// AppendRaw appends bytes to a partition log verbatim
func (b *MockBroker) AppendRaw(topic string, partition int, raw []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := logKey(topic, partition)
	b.logs[key] = append(b.logs[key], raw...)
}

// Size returns the length of a partition log
func (b *MockBroker) Size(topic string, partition int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.logs[logKey(topic, partition)])
}

// ReportedOffset returns the last offset a group sent with the offset command
func (b *MockBroker) ReportedOffset(topic, group string, partition int) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.offsets[group+"/"+logKey(topic, partition)]
	return v, ok
}

// Requests returns every request received so far
func (b *MockBroker) Requests() []protocol.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Request(nil), b.requests...)
}

// CountRequests counts received requests with the given command
func (b *MockBroker) CountRequests(command string) int {
	n := 0
	for _, r := range b.Requests() {
		if r.Command == command {
			n++
		}
	}
	return n
}

func (b *MockBroker) append(topic string, partition int, payload []byte, flag int32) (int64, int64) {
	key := logKey(topic, partition)
	offset := int64(len(b.logs[key]))
	id := b.nextID
	b.nextID++
	b.logs[key] = append(b.logs[key], protocol.EncodeRecord(id, flag, payload)...)
	return offset, id
}

// Close stops listening and drops every open connection
func (b *MockBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	err := b.listener.Close()
	for conn := range b.conns {
		conn.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	return err
}

func (b *MockBroker) accept() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			conn.Close()
			return
		}
		b.conns[conn] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *MockBroker) serve(conn net.Conn) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		req, err := protocol.ParseRequest(line)
		if err != nil {
			return
		}

		var payload []byte
		if req.Command == protocol.PutCommand {
			payload = make([]byte, req.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return
			}
		}

		if _, err := conn.Write(b.handle(req, payload)); err != nil {
			return
		}
	}
}

func (b *MockBroker) handle(req protocol.Request, payload []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, req)
	key := logKey(req.Topic, req.Partition)

	switch req.Command {
	case protocol.PutCommand:
		if b.garbled > 0 {
			b.garbled--
			return protocol.EncodeResult(302, []byte("garbled"))
		}
		if b.putStatus != 0 {
			return protocol.EncodeResult(b.putStatus, []byte(protocol.GetStatusName(b.putStatus)))
		}
		offset, id := b.append(req.Topic, req.Partition, payload, req.Flag)
		return protocol.EncodePutResult(id, req.Partition, offset)

	case protocol.GetCommand:
		if to, ok := b.redirects[key]; ok {
			delete(b.redirects, key)
			return protocol.EncodeResult(protocol.StatusMoved, []byte(strconv.FormatInt(to, 10)))
		}
		data := b.logs[key]
		if req.Offset < 0 || req.Offset >= int64(len(data)) {
			return protocol.EncodeResult(protocol.StatusNotFound, nil)
		}
		end := int64(len(data))
		if max := req.Offset + int64(req.MaxLen); req.MaxLen > 0 && max < end {
			end = max
		}
		return protocol.EncodeValue(data[req.Offset:end])

	case protocol.OffsetCommand:
		b.offsets[req.Group+"/"+key] = req.Offset
		return protocol.EncodeResult(protocol.StatusSuccess, nil)
	}
	return protocol.EncodeResult(protocol.StatusBadRequest, nil)
}
