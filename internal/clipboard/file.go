package clipboard

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"synclient/internal/synergy"
	"synclient/util"
)

// DefaultUpdaters is the number of concurrent copy commands.
const DefaultUpdaters = 4

// File keeps a clipboard in a plain file.  Local edits to the file are
// picked up through inotify and uploaded; server contents are written
// back either to the file or to the stdin of CopyCommand.
type File struct {
	Path string
	ID   synergy.ClipboardID
	// CopyCommand, when set, is run through /bin/sh for every update
	// and receives the contents on stdin (e.g. "wl-copy").
	CopyCommand string
	Sender      Sender
	Logger      *util.Logger

	dir, name string
	inotify   int
	// last is the most recent content seen in either direction, so our
	// own writes are not echoed back to the server.
	last     string
	updaters []*updater
}

type updater struct {
	cmd  *exec.Cmd
	w    *os.File
	fd   int
	data []byte
}

// NewFile starts watching path.  The parent directory is created if
// missing; the file itself may appear later.
func NewFile(path, copyCommand string, slots int, sender Sender, logger *util.Logger) (*File, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if slots <= 0 {
		slots = DefaultUpdaters
	}
	c := &File{
		Path:        path,
		ID:          synergy.ClipboardPrimary,
		CopyCommand: copyCommand,
		Sender:      sender,
		Logger:      logger,
		dir:         filepath.Dir(path),
		name:        filepath.Base(path),
		inotify:     -1,
		updaters:    make([]*updater, slots),
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return nil, fmt.Errorf("clipboard directory: %w", err)
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	if _, err := unix.InotifyAddWatch(fd, c.dir, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify_add_watch on %s: %w", c.dir, err)
	}
	c.inotify = fd

	// Whatever is there at startup counts as already known.
	if data, err := os.ReadFile(path); err == nil {
		c.last = string(data)
	}
	return c, nil
}

func (c *File) MonitorFd() int { return c.inotify }

func (c *File) UpdaterFds(dst []int) {
	for i := range dst {
		dst[i] = -1
		if i < len(c.updaters) && c.updaters[i] != nil {
			dst[i] = c.updaters[i].fd
		}
	}
}

func (c *File) MonitorPollProcess(slot *unix.PollFd) {
	if slot.Fd < 0 || slot.Revents == 0 {
		return
	}
	if int(slot.Fd) == c.inotify {
		if c.drainEvents() {
			c.reload()
		}
		return
	}
	for i, u := range c.updaters {
		if u == nil || int32(u.fd) != slot.Fd {
			continue
		}
		if slot.Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			c.finish(i, errors.New("copy command closed its input"))
			slot.Fd = -1
			return
		}
		if done, err := c.write(u); done || err != nil {
			c.finish(i, err)
			slot.Fd = -1
		}
		return
	}
}

// Update receives contents from the server.
func (c *File) Update(id synergy.ClipboardID, text string) {
	if id != c.ID {
		c.Logger.Debug("ignoring clipboard %d", id)
		return
	}
	if text == c.last {
		return
	}
	c.last = text

	if c.CopyCommand == "" {
		if err := c.writeFile(text); err != nil {
			c.Logger.Error("writing clipboard %s: %v", c.Path, err)
		}
		return
	}
	if err := c.start(text); err != nil {
		c.Logger.Error("clipboard update: %v", err)
	}
}

// drainEvents reads all queued inotify events and reports whether any
// concerned the clipboard file.
func (c *File) drainEvents() bool {
	buf := make([]byte, 4096)
	hit := false
	for {
		n, err := unix.Read(c.inotify, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return hit
		}
		if eventsName(buf[:n], c.name) {
			hit = true
		}
	}
}

func (c *File) reload() {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		c.Logger.Warn("reading clipboard %s: %v", c.Path, err)
		return
	}
	text := string(data)
	if text == c.last {
		return
	}
	c.last = text
	if c.Sender == nil {
		return
	}
	if err := c.Sender.SendClipboard(c.ID, text); err != nil {
		c.Logger.Verbose("clipboard change not sent: %v", err)
		return
	}
	c.Logger.Verbose("sent %d bytes of clipboard to server", len(text))
}

func (c *File) writeFile(text string) error {
	tmp, err := os.CreateTemp(c.dir, "."+c.name+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.Path)
}

func (c *File) start(text string) error {
	slot := -1
	for i, u := range c.updaters {
		if u == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("all %d updaters busy, dropping %d bytes", len(c.updaters), len(text))
	}

	r, w, err := os.Pipe()
	if err != nil {
		return err
	}
	cmd := exec.Command("/bin/sh", "-c", c.CopyCommand)
	cmd.Stdin = r
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return fmt.Errorf("starting %q: %w", c.CopyCommand, err)
	}
	r.Close()

	fd := int(w.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		w.Close()
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			c.Logger.Warn("copy command %q: %v", c.CopyCommand, err)
		}
	}()

	c.updaters[slot] = &updater{cmd: cmd, w: w, fd: fd, data: []byte(text)}
	c.Logger.Debug("clipboard updater %d started (%d bytes)", slot, len(text))
	return nil
}

// write pushes as much as the pipe takes and reports completion.
func (c *File) write(u *updater) (bool, error) {
	for len(u.data) > 0 {
		n, err := unix.Write(u.fd, u.data)
		if n > 0 {
			u.data = u.data[n:]
		}
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return false, nil
		case err != nil:
			return false, err
		}
	}
	return true, nil
}

func (c *File) finish(i int, err error) {
	u := c.updaters[i]
	c.updaters[i] = nil
	u.w.Close()
	if err != nil {
		c.Logger.Warn("clipboard updater %d: %v", i, err)
	}
}

// Close stops monitoring and abandons in-flight updates.
func (c *File) Close() error {
	for i, u := range c.updaters {
		if u != nil {
			u.w.Close()
			c.updaters[i] = nil
		}
	}
	if c.inotify < 0 {
		return nil
	}
	err := unix.Close(c.inotify)
	c.inotify = -1
	return err
}

// eventsName scans raw inotify records for one naming target.
func eventsName(buf []byte, target string) bool {
	for off := 0; off+unix.SizeofInotifyEvent <= len(buf); {
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12 : off+16]))
		end := off + unix.SizeofInotifyEvent + nameLen
		if end > len(buf) {
			break
		}
		name := buf[off+unix.SizeofInotifyEvent : end]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		if string(name) == target {
			return true
		}
		off = end
	}
	return false
}

