package wdx

import (
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Mask bits C2 requires to be supported, named after their inotify meaning
// rather than their numeric value so callers never need to know the kernel
// constants directly.
const (
	MaskCreatedInDirectory = unix.IN_CREATE
	MaskMovedIntoDirectory = unix.IN_MOVED_TO
	MaskSelfDeleted        = unix.IN_DELETE_SELF
	MaskSelfMoved          = unix.IN_MOVE_SELF
	MaskIgnoredByKernel    = unix.IN_IGNORED
	maskIsDir              = unix.IN_ISDIR
	maskQueueOverflow      = unix.IN_Q_OVERFLOW
)

// WatchHandle is the opaque identifier returned by InotifyAddWatch, paired
// one-to-one with the inotify FD and directory it was registered against.
type WatchHandle int32

// SAL is the filesystem system-abstraction-layer seam: the two existence
// predicates plus the raw inotify primitives C2 needs. A replaceable
// singleton is installed via SetSAL so tests can substitute a fake.
type SAL interface {
	IsDirectoryExisting(path string) bool
	IsSocketExisting(path string) bool
	InotifyInitNonblocking() (fd int, err error)
	InotifyClose(fd int) error
	InotifyAddWatch(fd int, path string, mask uint32) (WatchHandle, error)
	InotifyRmWatch(fd int, handle WatchHandle) error
	ReadInotifyEvents(fd int, buf []byte) (n int, err error)
}

// osSAL is the default SAL backed by the real kernel and filesystem.
type osSAL struct{}

func (osSAL) IsDirectoryExisting(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (osSAL) IsSocketExisting(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

func (osSAL) InotifyInitNonblocking() (int, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return -1, NewNotifierError("inotify_init1 failed", err)
	}
	return fd, nil
}

func (osSAL) InotifyClose(fd int) error {
	return unix.Close(fd)
}

func (osSAL) InotifyAddWatch(fd int, path string, mask uint32) (WatchHandle, error) {
	wd, err := unix.InotifyAddWatch(fd, path, mask)
	if err != nil {
		return -1, NewNotifierError("inotify_add_watch failed for "+path, err)
	}
	return WatchHandle(wd), nil
}

func (osSAL) InotifyRmWatch(fd int, handle WatchHandle) error {
	_, err := unix.InotifyRmWatch(fd, uint32(handle))
	return err
}

func (osSAL) ReadInotifyEvents(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

var activeSAL atomic.Pointer[SAL]

func init() {
	var s SAL = osSAL{}
	activeSAL.Store(&s)
}

// DefaultSAL returns the process-wide SAL singleton. The swap performed by
// SetSAL is atomic with respect to this read: callers always observe either
// the old or the new implementation, never a partially-constructed one.
func DefaultSAL() SAL {
	return *activeSAL.Load()
}

// SetSAL replaces the process-wide SAL singleton, returning the previous
// value so callers (typically tests) can restore it.
func SetSAL(s SAL) SAL {
	prev := activeSAL.Load()
	activeSAL.Store(&s)
	return *prev
}
