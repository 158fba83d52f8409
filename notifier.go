package wdx

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Kind distinguishes the two filesystem entry types a Notifier can wait for.
type Kind int

const (
	KindDirectory Kind = iota
	KindSocket
)

// PathSpec is the C2 input triple: (kind, directory, leaf_name). Directory
// must be absolute; LeafName must be non-empty and contain no path separator.
type PathSpec struct {
	Kind      Kind
	Directory string
	LeafName  string
}

// NewPathSpec splits fullPath into a PathSpec, validating the invariants
// from the data model: an absolute directory and a non-empty leaf name.
func NewPathSpec(fullPath string, kind Kind) (PathSpec, error) {
	clean := filepath.Clean(fullPath)
	if !filepath.IsAbs(clean) {
		return PathSpec{}, NewConfigError("path must be absolute: "+fullPath, nil)
	}
	leaf := filepath.Base(clean)
	dir := filepath.Dir(clean)
	if leaf == "" || leaf == "/" || leaf == "." {
		return PathSpec{}, NewConfigError("path must name a leaf entry: "+fullPath, nil)
	}
	return PathSpec{Kind: kind, Directory: dir, LeafName: leaf}, nil
}

func (p PathSpec) fullPath() string {
	return filepath.Join(p.Directory, p.LeafName)
}

type notifierState int32

const (
	stateBuilt notifierState = iota
	stateWatchingParent
	stateWatchingTarget
	stateSatisfied
	stateFailed
)

const notifyWatchMask = uint32(MaskCreatedInDirectory | MaskMovedIntoDirectory | MaskSelfDeleted | MaskSelfMoved)

const inotifyEventHeaderSize = 16

// Notifier fires its handler exactly once, asynchronously, when the path it
// was built for becomes a socket or directory — even if the path's parent
// directory does not yet exist. See PathSpec for the input shape.
type Notifier struct {
	sal  SAL
	spec PathSpec

	mu      sync.Mutex
	state   notifierState
	fd      int
	watch   WatchHandle
	stopR   int
	stopW   int
	nested  *Notifier
	handler func(bool)
	closed  bool
}

// NewNotifier constructs a Notifier for spec, using the process-wide SAL.
func NewNotifier(spec PathSpec) *Notifier {
	return &Notifier{sal: DefaultSAL(), spec: spec, state: stateBuilt, fd: -1, watch: -1, stopR: -1, stopW: -1}
}

// State reports the notifier's current lifecycle state.
func (n *Notifier) State() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case stateBuilt:
		return "built"
	case stateWatchingParent:
		return "watching_parent"
	case stateWatchingTarget:
		return "watching_target"
	case stateSatisfied:
		return "satisfied"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AsyncWaitForFile arranges for handler(true) to be called once the target
// exists with the requested kind, or handler(false) once on unrecoverable
// failure. Exactly one of the two outcomes fires, at most once, and only
// after AsyncWaitForFile has returned to its caller.
func (n *Notifier) AsyncWaitForFile(handler func(bool)) {
	n.mu.Lock()
	n.handler = handler
	n.mu.Unlock()
	go n.start()
}

// Close tears down any outstanding watch and wakes a blocked read loop. It
// is idempotent and safe to call from within the notifier's own handler:
// the handler is always moved out of the notifier before being invoked, so
// nothing left in-use is touched by a reentrant Close.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	stopW := n.stopW
	nested := n.nested
	n.mu.Unlock()

	if stopW >= 0 {
		_, _ = unix.Write(stopW, []byte{1})
	}
	if nested != nil {
		_ = nested.Close()
	}
	return nil
}

func (n *Notifier) start() {
	if n.spec.Directory == "/" {
		if !n.sal.IsDirectoryExisting("/") {
			n.finish(false)
			return
		}
		n.setupWatch()
		return
	}

	if n.sal.IsDirectoryExisting(n.spec.Directory) {
		n.setupWatch()
		return
	}

	parentSpec := PathSpec{
		Kind:      KindDirectory,
		Directory: filepath.Dir(n.spec.Directory),
		LeafName:  filepath.Base(n.spec.Directory),
	}
	nested := NewNotifier(parentSpec)
	n.mu.Lock()
	n.state = stateWatchingParent
	n.nested = nested
	n.mu.Unlock()

	nested.AsyncWaitForFile(func(ok bool) {
		if !ok {
			n.finish(false)
			return
		}
		n.setupWatch()
	})
}

func (n *Notifier) setupWatch() {
	fd, err := n.sal.InotifyInitNonblocking()
	if err != nil {
		n.finish(false)
		return
	}
	watch, err := n.sal.InotifyAddWatch(fd, n.spec.Directory, notifyWatchMask)
	if err != nil {
		_ = n.sal.InotifyClose(fd)
		n.finish(false)
		return
	}
	stopR, stopW, err := newSelfPipe()
	if err != nil {
		_ = n.sal.InotifyRmWatch(fd, watch)
		_ = n.sal.InotifyClose(fd)
		n.finish(false)
		return
	}

	n.mu.Lock()
	n.fd, n.watch, n.stopR, n.stopW = fd, watch, stopR, stopW
	n.state = stateWatchingTarget
	closedAlready := n.closed
	n.mu.Unlock()

	if closedAlready {
		n.finish(false)
		return
	}

	if n.exists() {
		n.finish(true)
		return
	}

	n.readLoop()
}

func (n *Notifier) exists() bool {
	full := n.spec.fullPath()
	if n.spec.Kind == KindSocket {
		return n.sal.IsSocketExisting(full)
	}
	return n.sal.IsDirectoryExisting(full)
}

func (n *Notifier) readLoop() {
	n.mu.Lock()
	fd, stopR := n.fd, n.stopR
	n.mu.Unlock()

	buf := make([]byte, 4096)
	valid := 0
	for {
		pollFds := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},
			{Fd: int32(stopR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pollFds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			n.finish(false)
			return
		}
		if pollFds[1].Revents&unix.POLLIN != 0 {
			n.finish(false)
			return
		}
		if pollFds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		read, err := n.sal.ReadInotifyEvents(fd, buf[valid:])
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			n.finish(false)
			return
		}
		valid += read

		consumed, matched, ok := n.parseEvents(buf[:valid])
		remaining := valid - consumed
		copy(buf[0:remaining], buf[consumed:valid])
		valid = remaining

		if matched {
			n.finish(ok)
			return
		}
		if valid == len(buf) {
			grown := make([]byte, len(buf)*2)
			copy(grown, buf[:valid])
			buf = grown
		}
	}
}

// parseEvents scans data for complete inotify events, returning how many
// leading bytes were consumed (the undecoded tail is preserved by the
// caller for the next read, mirroring the original's buffer compaction),
// and whether a terminal event (success or failure) was found.
func (n *Notifier) parseEvents(data []byte) (consumed int, matched bool, ok bool) {
	offset := 0
	for offset+inotifyEventHeaderSize <= len(data) {
		mask := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		nameLen := int(binary.LittleEndian.Uint32(data[offset+12 : offset+16]))
		total := inotifyEventHeaderSize + nameLen
		if offset+total > len(data) {
			break
		}
		name := ""
		if nameLen > 0 {
			raw := data[offset+inotifyEventHeaderSize : offset+total]
			if i := bytes.IndexByte(raw, 0); i >= 0 {
				raw = raw[:i]
			}
			name = string(raw)
		}
		offset += total

		if mask&uint32(MaskSelfDeleted|MaskSelfMoved|MaskIgnoredByKernel) != 0 {
			return offset, true, false
		}
		if mask&uint32(MaskCreatedInDirectory|MaskMovedIntoDirectory) == 0 {
			continue
		}
		if name != n.spec.LeafName {
			continue
		}
		isDir := mask&uint32(maskIsDir) != 0
		if n.spec.Kind == KindDirectory {
			if isDir {
				return offset, true, true
			}
			continue
		}
		// Socket: inotify cannot distinguish socket files from regular
		// files, so the directory-entry flag must be false and the SAL
		// must independently confirm the socket exists.
		if !isDir && n.sal.IsSocketExisting(n.spec.fullPath()) {
			return offset, true, true
		}
	}
	return offset, false, false
}

// finish releases the watch/fd pair (if any were acquired) before invoking
// the handler, preserving the FD/watch pairing invariant and making it safe
// for the handler to destroy the notifier reentrantly.
func (n *Notifier) finish(ok bool) {
	n.teardownWatch()

	n.mu.Lock()
	if n.state == stateSatisfied || n.state == stateFailed {
		n.mu.Unlock()
		return
	}
	if ok {
		n.state = stateSatisfied
	} else {
		n.state = stateFailed
	}
	handler := n.handler
	n.handler = nil
	n.mu.Unlock()

	if handler != nil {
		handler(ok)
	}
}

func (n *Notifier) teardownWatch() {
	n.mu.Lock()
	fd, watch := n.fd, n.watch
	stopR, stopW := n.stopR, n.stopW
	n.fd, n.watch = -1, -1
	n.stopR, n.stopW = -1, -1
	n.mu.Unlock()

	if fd >= 0 {
		if watch >= 0 {
			_ = n.sal.InotifyRmWatch(fd, watch)
		}
		_ = n.sal.InotifyClose(fd)
	}
	if stopR >= 0 {
		_ = unix.Close(stopR)
	}
	if stopW >= 0 {
		_ = unix.Close(stopW)
	}
}

func newSelfPipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}
