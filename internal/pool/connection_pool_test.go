package pool

import (
	"testing"
	"time"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	addr    string
	fail    bool
	active  bool
	closed  int
	connect int
}

func (f *fakeTransport) Connect() error {
	f.connect++
	if f.fail {
		return typederrors.Newf(typederrors.ConnectionError, "refused %s", f.addr)
	}
	f.active = true
	return nil
}

func (f *fakeTransport) Active() bool { return f.active }
func (f *fakeTransport) Write([]byte) error { return nil }
func (f *fakeTransport) ReadLine() ([]byte, error) { return nil, nil }
func (f *fakeTransport) ReadFrame(int) ([]byte, error) { return nil, nil }
func (f *fakeTransport) Addr() string { return f.addr }
func (f *fakeTransport) Close() error {
	f.active = false
	f.closed++
	return nil
}

type fakeFactory struct {
	down    map[string]bool
	created []*fakeTransport
}

func (ff *fakeFactory) new(addr string) transport.Transport {
	t := &fakeTransport{addr: addr, fail: ff.down[addr]}
	ff.created = append(ff.created, t)
	return t
}

func TestSocketPoolCachesPerEndpoint(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSocketPool(ff.new, Config{})

	a1, err := p.Get("a:1")
	require.NoError(t, err)
	a2, err := p.Get("a:1")
	require.NoError(t, err)
	b, err := p.Get("b:1")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Len(t, ff.created, 2)
	assert.Equal(t, []string{"a:1", "b:1"}, p.GetStats().Endpoints)
}

func TestSocketPoolDoesNotCacheFailedConnect(t *testing.T) {
	ff := &fakeFactory{down: map[string]bool{"down:1": true}}
	p := NewSocketPool(ff.new, Config{})

	_, err := p.Get("down:1")
	require.Error(t, err)
	assert.Equal(t, typederrors.ConnectionError, typederrors.GetErrorType(err))
	assert.Empty(t, p.GetStats().Endpoints)
	assert.Equal(t, 1, ff.created[0].closed)

	_, err = p.Get("down:1")
	require.Error(t, err)
	assert.Len(t, ff.created, 2)
}

func TestSocketPoolRecreatesInactive(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSocketPool(ff.new, Config{})

	first, err := p.Get("a:1")
	require.NoError(t, err)
	first.Close()

	second, err := p.Get("a:1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, second.Active())
	assert.Equal(t, int64(1), p.GetStats().TotalDiscards)
}

func TestSocketPoolIdleTimeout(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSocketPool(ff.new, Config{IdleTimeout: time.Millisecond})

	first, err := p.Get("a:1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	second, err := p.Get("a:1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.False(t, first.Active())
}

func TestSocketPoolDiscardAndClose(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSocketPool(ff.new, Config{})

	_, err := p.Get("a:1")
	require.NoError(t, err)
	_, err = p.Get("b:1")
	require.NoError(t, err)

	p.Discard("a:1")
	p.Discard("missing:1")
	assert.Equal(t, []string{"b:1"}, p.GetStats().Endpoints)

	p.Close()
	assert.Empty(t, p.GetStats().Endpoints)
	for _, ft := range ff.created {
		assert.False(t, ft.Active())
	}
	assert.Equal(t, int64(2), p.GetStats().TotalConnects)
}
