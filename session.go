package wdx

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SessionState names the points in the reconnect state machine a Session
// can occupy.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateAwaitingSocket
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingSocket:
		return "awaiting_socket"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Backoff timings fixed by the reconnect policy.
const (
	socketWaitBackoff     = 100 * time.Millisecond
	connectionRefusedWait = 1 * time.Second
	disconnectCleanupWait = 1 * time.Second
)

// SessionOption configures a Session at construction time, matching the
// functional-options shape used throughout this codebase.
type SessionOption func(*Session)

// WithOnMessage registers the handler invoked for every message received
// once connected.
func WithOnMessage(fn func(message []byte)) SessionOption {
	return func(s *Session) { s.onMessage = fn }
}

// WithOnFatal registers the handler invoked when a connect attempt fails
// with an error other than connection-refused (a terminal failure per the
// state machine).
func WithOnFatal(fn func(err error)) SessionOption {
	return func(s *Session) { s.onFatal = fn }
}

// WithMaxPayloadSize overrides the adapter's framed-message size bound.
func WithMaxPayloadSize(n int) SessionOption {
	return func(s *Session) { s.maxPayload = n }
}

// reactor is the work-dispatch primitive underlying Session.Run. It is safe
// for concurrent invocation: each scheduled completion runs on the first
// goroutine to pick it up off the channel.
type reactor struct {
	tasks   chan func()
	stopped atomic.Bool
}

func newReactor() *reactor {
	return &reactor{tasks: make(chan func(), 256)}
}

func (r *reactor) post(fn func()) {
	if r.stopped.Load() {
		return
	}
	select {
	case r.tasks <- fn:
	default:
		// Queue saturated; run inline rather than drop a scheduled
		// completion (completions here are always cheap, non-blocking
		// continuations of the connect/reconnect cycle).
		fn()
	}
}

func (r *reactor) runOnce(timeout time.Duration) (didWork bool) {
	if r.stopped.Load() {
		return false
	}
	if timeout <= 0 {
		select {
		case fn := <-r.tasks:
			fn()
			return true
		default:
			return false
		}
	}
	select {
	case fn := <-r.tasks:
		fn()
		return true
	case <-time.After(timeout):
		return false
	}
}

func (r *reactor) stop() {
	r.stopped.Store(true)
}

// Session is the ASIO-style client: it binds an Adapter to an AF_UNIX
// endpoint, uses a Notifier to wait for the server socket, connects,
// installs the adapter's receive loop, detects disconnect, and restarts
// the cycle — indefinitely, until Stop is called.
type Session struct {
	socketPath string
	sal        SAL
	maxPayload int

	reactor *reactor

	mu      sync.Mutex
	state   SessionState
	adapter *Adapter
	protMu  *sync.Mutex
	notifier *Notifier

	onConnect func()
	onMessage func(message []byte)
	onFatal   func(err error)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSession constructs a Session targeting socketPath. No connection
// attempt is made until DoConnect is called.
func NewSession(socketPath string, opts ...SessionOption) *Session {
	s := &Session{
		socketPath: socketPath,
		sal:        DefaultSAL(),
		reactor:    newReactor(),
		state:      StateDisconnected,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the session's current position in the reconnect state
// machine.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// DoConnect creates the shared adapter, schedules the connect cycle on the
// reactor, and returns a ProtectedAdapter wrapper immediately — even though
// the connect cycle itself completes asynchronously as Run is pumped.
// onConnect is invoked every time the session transitions into Connected,
// both on the initial connect and on every subsequent reconnect.
func (s *Session) DoConnect(onConnect func()) *ProtectedAdapter {
	s.mu.Lock()
	s.adapter = NewAdapter(s.maxPayload)
	s.protMu = &sync.Mutex{}
	s.onConnect = onConnect
	adapter, protMu := s.adapter, s.protMu
	s.mu.Unlock()

	s.reactor.post(s.doConnectInternal)
	return NewProtectedAdapter(adapter, protMu)
}

// Run drives the reactor once; it may return quickly. If the session is
// awaiting_socket and the reactor did no work, it sleeps briefly to avoid
// busy-waiting. Safe to call concurrently from multiple worker goroutines.
func (s *Session) Run() {
	s.RunOnce(0)
}

// RunOnce drives work with a bound: it waits up to timeout for a scheduled
// completion before giving up. A timeout of zero means "don't block."
func (s *Session) RunOnce(timeout time.Duration) {
	didWork := s.reactor.runOnce(timeout)
	if !didWork && s.State() == StateAwaitingSocket {
		select {
		case <-time.After(socketWaitBackoff):
		case <-s.stopCh:
		}
	}
}

// Stop causes the next Run iteration to exit, and wakes any reconnect
// backoff sleep in progress no later than its natural expiry.
func (s *Session) Stop() {
	s.reactor.stop()
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	notifier := s.notifier
	s.mu.Unlock()
	if notifier != nil {
		_ = notifier.Close()
	}
}

func (s *Session) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Session) sleepCancelable(d time.Duration) {
	select {
	case <-time.After(d):
	case <-s.stopCh:
	}
}

func (s *Session) doConnectInternal() {
	if s.stopped() {
		return
	}
	if s.sal.IsSocketExisting(s.socketPath) {
		s.doConnectSocket()
		return
	}
	s.waitForSocket()
}

func (s *Session) waitForSocket() {
	if s.stopped() {
		return
	}
	s.setState(StateAwaitingSocket)

	spec, err := NewPathSpec(s.socketPath, KindSocket)
	if err != nil {
		if s.onFatal != nil {
			s.onFatal(err)
		}
		return
	}
	notifier := NewNotifier(spec)
	s.mu.Lock()
	s.notifier = notifier
	s.mu.Unlock()

	notifier.AsyncWaitForFile(func(ok bool) {
		s.mu.Lock()
		s.notifier = nil
		s.mu.Unlock()

		if s.stopped() {
			return
		}
		if ok {
			s.reactor.post(s.doConnectSocket)
			return
		}
		s.reactor.post(func() {
			s.sleepCancelable(socketWaitBackoff)
			if s.stopped() {
				return
			}
			s.waitForSocket()
		})
	})
}

func (s *Session) doConnectSocket() {
	if s.stopped() {
		return
	}
	s.setState(StateConnecting)

	addr, err := net.ResolveUnixAddr("unix", s.socketPath)
	if err != nil {
		if s.onFatal != nil {
			s.onFatal(NewTransportError("resolve socket path failed", err))
		}
		return
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		if isConnectionRefused(err) {
			s.reactor.post(func() {
				s.sleepCancelable(connectionRefusedWait)
				if s.stopped() {
					return
				}
				s.doConnectInternal()
			})
			return
		}
		s.setState(StateDisconnected)
		if s.onFatal != nil {
			s.onFatal(NewTransportError("connect failed", err))
		}
		return
	}

	s.mu.Lock()
	adapter := s.adapter
	onConnect := s.onConnect
	s.mu.Unlock()

	adapter.Bind(conn)
	s.setState(StateConnected)
	adapter.Receive(func(message []byte, errMsg string) {
		if errMsg != "" {
			s.reactor.post(s.onDisconnect)
			return
		}
		s.mu.Lock()
		onMessage := s.onMessage
		s.mu.Unlock()
		if onMessage != nil {
			onMessage(message)
		}
	})

	if onConnect != nil {
		onConnect()
	}
}

func (s *Session) onDisconnect() {
	s.setState(StateReconnecting)

	s.mu.Lock()
	adapter := s.adapter
	s.mu.Unlock()

	adapter.Close(func() {
		s.reactor.post(s.tryReconnect)
	})
}

func (s *Session) tryReconnect() {
	s.mu.Lock()
	adapter := s.adapter
	s.mu.Unlock()
	adapter.Reinit()

	s.sleepCancelable(disconnectCleanupWait)
	if s.stopped() {
		return
	}
	s.setState(StateAwaitingSocket)
	s.doConnectInternal()
}

func isConnectionRefused(err error) bool {
	return strings.Contains(err.Error(), "connection refused")
}
