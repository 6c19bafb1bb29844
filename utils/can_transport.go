package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// SocketCANReader pumps frames from one receiver goroutine so ReadFrame can
// honour context cancellation without leaking a goroutine per call.
type SocketCANReader struct {
	conn   net.Conn
	recv   *socketcan.Receiver
	frames chan can.Frame
	done   chan struct{}
	err    error
	start  sync.Once
}

func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANReader{
		conn:   conn,
		recv:   socketcan.NewReceiver(conn),
		frames: make(chan can.Frame, 64),
		done:   make(chan struct{}),
	}, nil
}

func (r *SocketCANReader) pump() {
	defer close(r.done)
	for r.recv.Receive() {
		r.frames <- r.recv.Frame()
	}
	r.err = r.recv.Err()
	if r.err == nil {
		r.err = io.EOF
	}
}

func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	r.start.Do(func() { go r.pump() })

	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-r.frames:
		return f, nil
	case <-r.done:
		select {
		case f := <-r.frames:
			return f, nil
		default:
		}
		return can.Frame{}, fmt.Errorf("socketcan receive: %w", r.err)
	}
}

func (r *SocketCANReader) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// ErrBusClosed is returned by MemoryBus after Close.
var ErrBusClosed = errors.New("can bus closed")

// MemoryBus is an in-process CAN bus. Frames written to it are delivered to
// ReadFrame in order; it backs the replay harness and tests.
type MemoryBus struct {
	mu      sync.Mutex
	frames  chan can.Frame
	closed  chan struct{}
	once    sync.Once
	written []can.Frame
	failTX  error
}

func NewMemoryBus(depth int) *MemoryBus {
	if depth < 1 {
		depth = 1
	}
	return &MemoryBus{
		frames: make(chan can.Frame, depth),
		closed: make(chan struct{}),
	}
}

// Inject queues a frame for ReadFrame, as if another node had sent it.
func (b *MemoryBus) Inject(ctx context.Context, f can.Frame) error {
	select {
	case <-b.closed:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.frames <- f:
		return nil
	}
}

func (b *MemoryBus) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case <-b.closed:
		return can.Frame{}, ErrBusClosed
	case f := <-b.frames:
		return f, nil
	}
}

// WriteFrame records f. It fails with the error set by FailWrites, if any.
func (b *MemoryBus) WriteFrame(ctx context.Context, f can.Frame) error {
	select {
	case <-b.closed:
		return ErrBusClosed
	default:
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failTX != nil {
		return b.failTX
	}
	b.written = append(b.written, f)
	return nil
}

// FailWrites makes subsequent WriteFrame calls return err. Nil restores them.
func (b *MemoryBus) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTX = err
}

// Written returns a copy of every frame accepted by WriteFrame.
func (b *MemoryBus) Written() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]can.Frame, len(b.written))
	copy(out, b.written)
	return out
}

func (b *MemoryBus) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}
