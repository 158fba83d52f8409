package wdx

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// DefaultMaxPayloadSize bounds a single framed message's payload; reads that
// would exceed it surface a TransportError instead of being admitted.
const DefaultMaxPayloadSize = 16 * 1024 * 1024

const frameHeaderSize = 4

type adapterState int32

const (
	adapterFresh adapterState = iota
	adapterConnected
	adapterClosing
	adapterReusable
)

// MessageHandler receives a fully-assembled message, or an error description
// (with a nil message) when the read loop encountered an I/O failure.
type MessageHandler func(message []byte, errMsg string)

// Adapter abstracts a length-prefixed message channel over an AF_UNIX stream
// socket: a fixed little-endian 4-byte length header followed by an opaque
// payload. It owns the socket and publishes receive events; it supports
// orderly close and reinitialization for reconnect.
type Adapter struct {
	maxPayload int

	mu      sync.Mutex
	conn    *net.UnixConn
	state   adapterState
	onMsg   MessageHandler
	writeMu sync.Mutex
	stopCh  chan struct{}
}

// NewAdapter constructs a fresh, unconnected Adapter.
func NewAdapter(maxPayloadSize int) *Adapter {
	if maxPayloadSize <= 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}
	return &Adapter{maxPayload: maxPayloadSize, state: adapterFresh}
}

// Bind attaches an already-connected Unix socket to the adapter, moving it
// into the connected state. Ownership of conn transfers to the adapter.
func (a *Adapter) Bind(conn *net.UnixConn) {
	a.mu.Lock()
	a.conn = conn
	a.state = adapterConnected
	a.stopCh = make(chan struct{})
	a.mu.Unlock()
}

// Conn exposes the underlying socket, e.g. for a caller driving connect.
func (a *Adapter) Conn() *net.UnixConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// Receive starts an asynchronous read loop. For each fully-assembled
// message it invokes onMessage(message, ""); for any I/O error it invokes
// onMessage(nil, errText) exactly once and stops reading.
func (a *Adapter) Receive(onMessage MessageHandler) {
	a.mu.Lock()
	a.onMsg = onMessage
	conn := a.conn
	stop := a.stopCh
	a.mu.Unlock()

	if conn == nil {
		onMessage(nil, "adapter: receive called before bind")
		return
	}
	go a.readLoop(conn, stop)
}

func (a *Adapter) readLoop(conn *net.UnixConn, stop chan struct{}) {
	header := make([]byte, frameHeaderSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if _, err := io.ReadFull(conn, header); err != nil {
			a.deliverError(err)
			return
		}
		length := binary.LittleEndian.Uint32(header)
		if int(length) > a.maxPayload {
			a.deliverError(fmt.Errorf("adapter: frame length %d exceeds max payload %d", length, a.maxPayload))
			return
		}
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				a.deliverError(err)
				return
			}
		}

		a.mu.Lock()
		handler := a.onMsg
		a.mu.Unlock()
		if handler != nil {
			handler(payload, "")
		}
	}
}

func (a *Adapter) deliverError(err error) {
	a.mu.Lock()
	handler := a.onMsg
	a.mu.Unlock()
	if handler != nil {
		handler(nil, NewTransportError("read failed", err).Error())
	}
}

// Send writes one framed message. Safe to call concurrently with itself;
// concurrent calls with Close or Reinit must be serialized by the caller
// (typically via ProtectedAdapter).
func (a *Adapter) Send(payload []byte) error {
	if len(payload) > a.maxPayload {
		return NewTransportError(fmt.Sprintf("payload of %d bytes exceeds max %d", len(payload), a.maxPayload), nil)
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return NewTransportError("send on unconnected adapter", nil)
	}

	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := conn.Write(header); err != nil {
		return NewTransportError("write header failed", err)
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return NewTransportError("write payload failed", err)
		}
	}
	return nil
}

// Close releases OS resources and invokes onClosed when done.
func (a *Adapter) Close(onClosed func()) error {
	a.mu.Lock()
	if a.state == adapterClosing || a.state == adapterReusable {
		a.mu.Unlock()
		if onClosed != nil {
			onClosed()
		}
		return nil
	}
	a.state = adapterClosing
	conn := a.conn
	stop := a.stopCh
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}

	a.mu.Lock()
	a.state = adapterReusable
	a.mu.Unlock()

	if onClosed != nil {
		onClosed()
	}
	return err
}

// Reinit prepares the adapter for a fresh connect after a close.
func (a *Adapter) Reinit() {
	a.mu.Lock()
	a.conn = nil
	a.onMsg = nil
	a.stopCh = nil
	a.state = adapterFresh
	a.mu.Unlock()
}

// ProtectedAdapter ties adapter access to a shared mutex: all concurrent
// users of the adapter must go through a wrapper instance. Restart of the
// owning client session does not invalidate outstanding wrappers; they
// observe transport errors as message delivery failures rather than panics.
type ProtectedAdapter struct {
	adapter *Adapter
	mu      *sync.Mutex
}

// NewProtectedAdapter wraps adapter with the given shared protection mutex.
func NewProtectedAdapter(adapter *Adapter, mu *sync.Mutex) *ProtectedAdapter {
	return &ProtectedAdapter{adapter: adapter, mu: mu}
}

// Send serializes access to the underlying adapter's Send via the shared
// protection mutex, so sends through wrappers sharing that mutex never
// overlap. The owning Session does not take this mutex when it binds,
// closes or reinitializes the adapter, so a Send does not hold off the
// reconnect cycle; a Send that races a reconnect returns a TransportError.
func (p *ProtectedAdapter) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adapter.Send(payload)
}
