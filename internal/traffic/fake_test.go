package traffic

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"firestige.xyz/netraffic/internal/capture"
)

// fakeHandle replays packets pushed by the test and reports a read timeout
// whenever nothing is queued.
type fakeHandle struct {
	device  string
	opts    capture.Options
	packets chan capture.PacketHeader
	hold    chan struct{} // when set, NextPacket blocks until it is closed

	filterErr    error
	directionErr error
	readErr      error

	mu        sync.Mutex
	filter    string
	direction capture.Direction

	idle   atomic.Int64
	closed atomic.Bool
}

func newFakeHandle(device string, opts capture.Options) *fakeHandle {
	return &fakeHandle{
		device:  device,
		opts:    opts,
		packets: make(chan capture.PacketHeader, 64),
	}
}

func (h *fakeHandle) SetFilter(expr string) error {
	if h.filterErr != nil {
		return h.filterErr
	}
	h.mu.Lock()
	h.filter = expr
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) SetDirection(d capture.Direction) error {
	if h.directionErr != nil {
		return h.directionErr
	}
	h.mu.Lock()
	h.direction = d
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) NextPacket() (capture.PacketHeader, error) {
	if h.hold != nil {
		<-h.hold
	}
	if h.readErr != nil {
		return capture.PacketHeader{}, h.readErr
	}
	select {
	case p, ok := <-h.packets:
		if !ok {
			return capture.PacketHeader{}, io.EOF
		}
		return p, nil
	case <-time.After(2 * time.Millisecond):
		h.idle.Add(1)
		return capture.PacketHeader{}, capture.ErrTimeout
	}
}

func (h *fakeHandle) Close() {
	h.closed.Store(true)
}

func (h *fakeHandle) push(lengths ...int) {
	for _, n := range lengths {
		h.packets <- capture.PacketHeader{
			Length:        n,
			CaptureLength: n,
			Timestamp:     time.Unix(1700000000, 0),
		}
	}
}

// waitIdle returns once every queued packet has been read and fully counted.
func (h *fakeHandle) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.packets) == 0 }, 2*time.Second, time.Millisecond)
	mark := h.idle.Load()
	require.Eventually(t, func() bool { return h.idle.Load() > mark }, 2*time.Second, time.Millisecond)
}

// fakeOpener hands out a new fakeHandle per Open and remembers them in order.
type fakeOpener struct {
	mu      sync.Mutex
	handles []*fakeHandle

	openErr      error
	filterErr    error
	directionErr error
	readErr      error
	hold         chan struct{}
}

func (o *fakeOpener) Open(device string, opts capture.Options) (capture.Handle, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	h := newFakeHandle(device, opts)
	h.filterErr = o.filterErr
	h.directionErr = o.directionErr
	h.readErr = o.readErr
	h.hold = o.hold

	o.mu.Lock()
	o.handles = append(o.handles, h)
	o.mu.Unlock()
	return h, nil
}

func (o *fakeOpener) handle(t *testing.T, i int) *fakeHandle {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.Greater(t, len(o.handles), i, "handle %d was never opened", i)
	return o.handles[i]
}
