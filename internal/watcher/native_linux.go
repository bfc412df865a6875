//go:build linux

package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const defaultSessionBuffer = 512

// inotifySource opens inotify based sessions. It is the native backend
// on Linux.
type inotifySource struct{}

func defaultNativeSource() nativeSource { return inotifySource{} }

func (inotifySource) open(config sessionConfig) (nativeSession, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}
	buffer := config.buffer
	if buffer <= 0 {
		buffer = defaultSessionBuffer
	}
	session := &inotifySession{
		// The nonblocking fd goes through os.File so reads park on
		// the runtime poller and close unblocks them.
		file:    os.NewFile(uintptr(fd), "inotify"),
		fd:      fd,
		config:  config,
		watches: make(map[int32]string),
		paths:   make(map[string]int32),
		roots:   make(map[string]bool, len(config.roots)),
		eventCh: make(chan rawEvent, buffer),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	mask := inotifyMask(config.interest, config.recursive)
	for _, root := range config.roots {
		session.roots[root] = true
		if err := session.addWatch(root, mask); err != nil {
			session.file.Close()
			return nil, err
		}
		if config.recursive {
			session.addTree(root, mask, false)
		}
	}
	go session.readLoop(mask)
	return session, nil
}

// inotifyMask translates the neutral interest bits into an inotify
// mask. Recursive sessions always watch entry creation so new
// directories can be picked up.
func inotifyMask(interest rawKind, recursive bool) uint32 {
	var mask uint32
	if interest&rawModified != 0 {
		mask |= unix.IN_MODIFY
	}
	if interest&rawMetaChanged != 0 {
		mask |= unix.IN_ATTRIB
	}
	if interest&rawCreated != 0 {
		mask |= unix.IN_CREATE | unix.IN_MOVED_TO
	}
	if interest&rawRemoved != 0 {
		mask |= unix.IN_DELETE
	}
	if interest&rawRenamed != 0 {
		mask |= unix.IN_MOVED_FROM | unix.IN_MOVED_TO
	}
	if interest&rawRootDeleted != 0 {
		mask |= unix.IN_DELETE_SELF
	}
	if interest&rawRootMoved != 0 {
		mask |= unix.IN_MOVE_SELF
	}
	if recursive {
		mask |= unix.IN_CREATE | unix.IN_MOVED_TO
	}
	return mask
}

type inotifySession struct {
	file   *os.File
	fd     int
	config sessionConfig

	mu      sync.Mutex
	watches map[int32]string
	paths   map[string]int32
	roots   map[string]bool

	eventCh chan rawEvent
	errCh   chan error
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (session *inotifySession) events() <-chan rawEvent { return session.eventCh }

func (session *inotifySession) errors() <-chan error { return session.errCh }

func (session *inotifySession) close() error {
	session.closeOnce.Do(func() {
		close(session.done)
		session.closeErr = session.file.Close()
	})
	return session.closeErr
}

func (session *inotifySession) addWatch(path string, mask uint32) error {
	wd, err := unix.InotifyAddWatch(session.fd, path, mask)
	if err != nil {
		return fmt.Errorf("add watch %s: %w", path, err)
	}
	session.mu.Lock()
	session.watches[int32(wd)] = path
	session.paths[path] = int32(wd)
	session.mu.Unlock()
	return nil
}

func (session *inotifySession) removeWatch(wd int32) {
	session.mu.Lock()
	path, ok := session.watches[wd]
	if ok {
		delete(session.watches, wd)
		delete(session.paths, path)
	}
	session.mu.Unlock()
}

func (session *inotifySession) watchPath(wd int32) (string, bool) {
	session.mu.Lock()
	path, ok := session.watches[wd]
	session.mu.Unlock()
	return path, ok
}

// addTree adds watches for every directory under root. Walk errors are
// ignored since directories can vanish while being walked. When emit is
// set, entries found under root are reported as created so callers do
// not miss files that appeared before the watch was in place.
func (session *inotifySession) addTree(root string, mask uint32, emit bool) {
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || path == root {
			return nil
		}
		if entry.IsDir() {
			if err := session.addWatch(path, mask); err == nil && emit {
				session.emit(rawEvent{path: path, kinds: rawCreated | rawIsDir})
			}
			return nil
		}
		if emit {
			session.emit(rawEvent{path: path, kinds: rawCreated})
		}
		return nil
	})
}

func (session *inotifySession) emit(event rawEvent) {
	select {
	case session.eventCh <- event:
	case <-session.done:
	}
}

func (session *inotifySession) readLoop(mask uint32) {
	defer close(session.eventCh)
	defer close(session.errCh)

	buf := make([]byte, 64<<10)
	for {
		n, err := session.file.Read(buf)
		if err != nil {
			if !errors.Is(err, os.ErrClosed) {
				select {
				case session.errCh <- fmt.Errorf("inotify read: %w", err):
				default:
				}
			}
			return
		}
		offset := 0
		for offset+unix.SizeofInotifyEvent <= n {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(raw.Len)
			name := ""
			if nameLen > 0 {
				start := offset + unix.SizeofInotifyEvent
				name = strings.TrimRight(string(buf[start:start+nameLen]), "\x00")
			}
			session.handleKernelEvent(raw.Wd, raw.Mask, raw.Cookie, name, mask)
			offset += unix.SizeofInotifyEvent + nameLen
		}
	}
}

func (session *inotifySession) handleKernelEvent(wd int32, eventMask, cookie uint32, name string, watchMask uint32) {
	if eventMask&unix.IN_Q_OVERFLOW != 0 {
		session.emit(rawEvent{kinds: rawOverflow})
		return
	}
	if eventMask&unix.IN_IGNORED != 0 {
		session.removeWatch(wd)
		return
	}
	base, ok := session.watchPath(wd)
	if !ok {
		return
	}
	path := base
	if name != "" {
		path = filepath.Join(base, name)
	}

	kinds := decodeInotifyMask(eventMask, session.roots[base] && name == "")
	if eventMask&unix.IN_MOVE_SELF != 0 && !session.roots[base] {
		// A moved subdirectory keeps its watch but the recorded path
		// is stale. Drop it; the parent reported the rename.
		unix.InotifyRmWatch(session.fd, uint32(wd))
		session.removeWatch(wd)
	}
	if kinds == 0 {
		return
	}
	session.emit(rawEvent{path: path, kinds: kinds, cookie: cookie})

	if session.config.recursive && kinds&rawCreated != 0 && kinds&rawIsDir != 0 {
		// Entries inside a directory that appeared between mkdir and
		// the watch being added would otherwise be missed.
		if err := session.addWatch(path, watchMask); err == nil {
			session.addTree(path, watchMask, true)
		}
	}
}

func decodeInotifyMask(eventMask uint32, isRoot bool) rawKind {
	var kinds rawKind
	if eventMask&unix.IN_CREATE != 0 {
		kinds |= rawCreated
	}
	if eventMask&unix.IN_MOVED_TO != 0 {
		kinds |= rawCreated | rawRenamed
	}
	if eventMask&unix.IN_DELETE != 0 {
		kinds |= rawRemoved
	}
	if eventMask&unix.IN_MOVED_FROM != 0 {
		kinds |= rawRenamed
	}
	if eventMask&unix.IN_MODIFY != 0 {
		kinds |= rawModified
	}
	if eventMask&unix.IN_ATTRIB != 0 {
		kinds |= rawMetaChanged
	}
	if eventMask&unix.IN_DELETE_SELF != 0 && isRoot {
		kinds |= rawRootDeleted
	}
	if eventMask&unix.IN_MOVE_SELF != 0 && isRoot {
		kinds |= rawRootMoved
	}
	if eventMask&unix.IN_UNMOUNT != 0 {
		kinds |= rawUnmounted
	}
	if eventMask&unix.IN_ISDIR != 0 {
		kinds |= rawIsDir
	}
	return kinds
}
