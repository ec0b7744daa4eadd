package eventloop

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newInterrupter(t *testing.T) *Interrupter {
	t.Helper()
	i, err := NewInterrupter(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { i.Close() })
	return i
}

func waitReadable(t *testing.T, fd int) {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := UnixPoller{}.Poll(fds, 2*time.Second)
	if err != nil || n != 1 {
		t.Fatalf("wake fd not readable: n=%d err=%v", n, err)
	}
}

func TestInterrupter_ShutdownSignal(t *testing.T) {
	i := newInterrupter(t)
	ctx := context.Background()
	if err := i.Check(ctx); err != nil {
		t.Fatalf("fresh Check = %v", err)
	}

	i.Raise(syscall.SIGTERM)
	waitReadable(t, i.Fd())
	if err := i.Check(ctx); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Check = %v", err)
	}
	// Shutdown is sticky.
	if err := i.Check(ctx); !errors.Is(err, ErrInterrupted) {
		t.Error("shutdown forgotten")
	}
}

func TestInterrupter_ActionRunsOnce(t *testing.T) {
	i := newInterrupter(t)
	ran := 0
	i.Handle(syscall.SIGHUP, func() { ran++ })

	i.Raise(syscall.SIGHUP)
	i.Raise(syscall.SIGHUP)
	if err := i.Check(context.Background()); err != nil {
		t.Fatalf("Check = %v", err)
	}
	if err := i.Check(context.Background()); err != nil {
		t.Fatalf("Check = %v", err)
	}
	if ran != 1 {
		t.Errorf("action ran %d times, want 1 for coalesced signals", ran)
	}

	// The pipe was drained.
	fds := []unix.PollFd{{Fd: int32(i.Fd()), Events: unix.POLLIN}}
	if n, _ := unix.Poll(fds, 0); n != 0 {
		t.Error("wake pipe still readable after Check")
	}
}

func TestInterrupter_CustomShutdownSet(t *testing.T) {
	i := newInterrupter(t)
	i.Shutdown(syscall.SIGQUIT)
	i.Raise(syscall.SIGINT)
	if err := i.Check(context.Background()); err != nil {
		t.Errorf("SIGINT should no longer stop: %v", err)
	}
	i.Raise(syscall.SIGQUIT)
	if err := i.Check(context.Background()); !errors.Is(err, ErrInterrupted) {
		t.Errorf("Check = %v", err)
	}
}

func TestInterrupter_ContextCancelWakes(t *testing.T) {
	i := newInterrupter(t)
	ctx, cancel := context.WithCancel(context.Background())
	i.Notify(ctx)

	cancel()
	waitReadable(t, i.Fd())
	if err := i.Check(context.Background()); !errors.Is(err, ErrInterrupted) {
		t.Errorf("Check = %v", err)
	}
}

func TestInterrupter_RealSignal(t *testing.T) {
	i := newInterrupter(t)
	got := make(chan struct{}, 1)
	i.Handle(syscall.SIGUSR2, func() { got <- struct{}{} })
	i.Notify(context.Background())

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR2); err != nil {
		t.Fatal(err)
	}
	waitReadable(t, i.Fd())
	if err := i.Check(context.Background()); err != nil {
		t.Fatalf("Check = %v", err)
	}
	select {
	case <-got:
	default:
		t.Error("action did not run")
	}
}

func TestInterrupter_CloseIsIdempotent(t *testing.T) {
	i, err := NewInterrupter(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
	i.Close()
	i.Stop() // must not write to a closed descriptor
}

func TestInterrupter_Sleep(t *testing.T) {
	i := newInterrupter(t)
	start := time.Now()
	if err := i.Sleep(context.Background(), 30*time.Millisecond); err != nil {
		t.Fatalf("Sleep = %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("Sleep returned early")
	}

	// Actions run without ending the wait.
	ran := 0
	i.Handle(syscall.SIGHUP, func() { ran++ })
	i.Raise(syscall.SIGHUP)
	if err := i.Sleep(context.Background(), 10*time.Millisecond); err != nil || ran != 1 {
		t.Errorf("Sleep = %v, action ran %d times", err, ran)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		i.Raise(syscall.SIGINT)
	}()
	start = time.Now()
	if err := i.Sleep(context.Background(), time.Minute); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Sleep = %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("shutdown did not end the wait")
	}
}

func TestUnixPoller(t *testing.T) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	fds := []unix.PollFd{{Fd: int32(p[0]), Events: unix.POLLIN}}
	start := time.Now()
	n, err := UnixPoller{}.Poll(fds, 20*time.Millisecond)
	if err != nil || n != 0 {
		t.Fatalf("empty pipe: n=%d err=%v", n, err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("returned before the timeout")
	}

	unix.Write(p[1], []byte("x"))
	n, err = UnixPoller{}.Poll(fds, time.Second)
	if err != nil || n != 1 || fds[0].Revents&unix.POLLIN == 0 {
		t.Errorf("readable pipe: n=%d err=%v revents=%#x", n, err, fds[0].Revents)
	}
}

func TestPollSet(t *testing.T) {
	p := NewPollSet(3)
	if p.Len() != SlotClipUpdater+3 || p.Updaters() != 3 {
		t.Fatalf("len=%d updaters=%d", p.Len(), p.Updaters())
	}
	for i := 0; i < p.Len(); i++ {
		if p.Slot(i).Fd != -1 || p.Slot(i).Events != unix.POLLIN {
			t.Errorf("slot %d = %+v", i, *p.Slot(i))
		}
	}
	if len(p.Active(false)) != 2 || len(p.Active(true)) != p.Len() {
		t.Error("active slot ranges wrong")
	}

	p.Set(SlotDisplay, 7, unix.POLLOUT)
	p.Slot(SlotDisplay).Revents = unix.POLLOUT
	if !p.Ready(SlotDisplay) || p.Ready(SlotNet) {
		t.Error("Ready misreports")
	}
	p.Set(SlotDisplay, 7, unix.POLLIN)
	if p.Ready(SlotDisplay) {
		t.Error("Set should clear the previous result")
	}
}
