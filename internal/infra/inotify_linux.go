//go:build linux

package infra

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// DefaultProcRoot is where per-process control directories live.
const DefaultProcRoot = "/proc"

// DefaultEventIdle is how long the event loop idles when no data is pending.
const DefaultEventIdle = 100 * time.Millisecond

// inotifyBufferSize holds roughly 1024 nameless records per read.
const inotifyBufferSize = 1024 * (unix.SizeofInotifyEvent + 16)

// inotifyRecord is one decoded inotify_event header.
type inotifyRecord struct {
	wd   int
	mask uint32
}

// InotifyWatcher implements domain.ProcessWatcher with IN_DELETE_SELF
// watches on /proc/<pid>.
type InotifyWatcher struct {
	fd        int
	procRoot  string
	idle      time.Duration
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewInotifyWatcher opens a non-blocking inotify context.
// Failure here is fatal to the daemon.
func NewInotifyWatcher(procRoot string, idle time.Duration, logger *zap.Logger) (*InotifyWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	if idle <= 0 {
		idle = DefaultEventIdle
	}
	return &InotifyWatcher{
		fd:       fd,
		procRoot: procRoot,
		idle:     idle,
		logger:   logger,
	}, nil
}

// AddWatch subscribes to removal of <procRoot>/<pid>.
// Watching the same directory twice returns the same descriptor.
func (w *InotifyWatcher) AddWatch(pid int) (int, error) {
	path := filepath.Join(w.procRoot, strconv.Itoa(pid))
	wd, err := unix.InotifyAddWatch(w.fd, path, unix.IN_DELETE_SELF)
	if err != nil {
		return -1, fmt.Errorf("inotify_add_watch on %s: %w", path, err)
	}
	return wd, nil
}

// RemoveWatch drops a subscription.
func (w *InotifyWatcher) RemoveWatch(wd int) error {
	_, err := unix.InotifyRmWatch(w.fd, uint32(wd))
	return err
}

// Run reads events until ctx is done. Read errors never end the loop:
// a process may still be running and its exit must be observed.
func (w *InotifyWatcher) Run(ctx context.Context, handle func(domain.WatchEvent)) {
	buffer := make([]byte, inotifyBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := unix.Read(w.fd, buffer)
		if err != nil || n <= 0 {
			if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
				w.logger.Warn("inotify read failed, retrying", zap.Error(err))
			}
			w.waitReadable(ctx)
			continue
		}

		// Drain every record of this delivery before reading again.
		for _, rec := range parseInotifyRecords(buffer[:n]) {
			switch {
			case rec.mask&unix.IN_Q_OVERFLOW != 0:
				w.logger.Warn("inotify queue overflow")
				handle(domain.WatchEvent{WD: rec.wd, Overflow: true})
			case rec.mask&unix.IN_DELETE_SELF != 0:
				handle(domain.WatchEvent{WD: rec.wd})
			}
			// IN_IGNORED follows IN_DELETE_SELF and is skipped: the descriptor
			// may already belong to a new registration by the time it is read.
		}
	}
}

// waitReadable idles until the fd has data, the idle interval passes, or ctx ends.
func (w *InotifyWatcher) waitReadable(ctx context.Context) {
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	count, err := unix.Poll(fds, int(w.idle/time.Millisecond))
	if err == nil && count > 0 {
		return
	}
	if err != nil && !errors.Is(err, unix.EINTR) {
		// Poll itself failed: fall back to a plain sleep so the loop never spins.
		select {
		case <-ctx.Done():
		case <-time.After(w.idle):
		}
	}
}

// Close releases the inotify descriptor. Safe to call more than once.
func (w *InotifyWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = unix.Close(w.fd)
	})
	return err
}

// parseInotifyRecords decodes every record in a read buffer.
//
// Inotify event layout (from inotify(7)):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, padded to alignment
//	};
func parseInotifyRecords(buffer []byte) []inotifyRecord {
	var records []inotifyRecord
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		wd := int(int32(binary.NativeEndian.Uint32(buffer[offset : offset+4])))
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))

		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}

		records = append(records, inotifyRecord{wd: wd, mask: mask})
		offset += eventSize
	}
	return records
}

// Ensure InotifyWatcher implements domain.ProcessWatcher.
var _ domain.ProcessWatcher = (*InotifyWatcher)(nil)
