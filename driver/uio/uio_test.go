//go:build linux

package uio

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// newPair returns a line backed by one end of a socket pair and the
// other end, which plays the kernel.
func newPair(t *testing.T) (*Line, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	return &Line{fd: fds[0], name: "socketpair"}, fds[1]
}

func TestWait(t *testing.T) {
	l, kernel := newPair(t)
	defer l.Close()
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], 42)
	if _, err := unix.Write(kernel, buf[:]); err != nil {
		t.Fatal(err)
	}
	n, err := l.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Errorf("interrupt count %d, want 42", n)
	}
}

func TestWaitCanceled(t *testing.T) {
	l, _ := newPair(t)
	defer l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestUnmask(t *testing.T) {
	l, kernel := newPair(t)
	defer l.Close()
	if err := l.Unmask(); err != nil {
		t.Fatal(err)
	}
	var buf [4]byte
	if _, err := unix.Read(kernel, buf[:]); err != nil {
		t.Fatal(err)
	}
	if v := binary.NativeEndian.Uint32(buf[:]); v != 1 {
		t.Errorf("unmask wrote %d, want 1", v)
	}
}

func TestClosed(t *testing.T) {
	l, _ := newPair(t)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("wait: got %v, want %v", err, ErrClosed)
	}
	if err := l.Unmask(); !errors.Is(err, ErrClosed) {
		t.Errorf("unmask: got %v, want %v", err, ErrClosed)
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open("/dev/uio-does-not-exist"); !errors.Is(err, unix.ENOENT) {
		t.Errorf("got %v, want %v", err, unix.ENOENT)
	}
}
