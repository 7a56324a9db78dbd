//go:build linux

// Package uio waits for device interrupts through the Linux userspace
// I/O framework. A read from /dev/uioN blocks until the next interrupt
// and returns the interrupt count; writing 1 re-enables the interrupt
// after the kernel masked it.
package uio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// pollInterval bounds the time between context checks while waiting.
const pollInterval = 100 // milliseconds

var ErrClosed = errors.New("uio: line closed")

// Line is an interrupt line exposed by a UIO device.
type Line struct {
	fd   int
	name string
}

// Open opens the UIO device at path, for example /dev/uio0.
func Open(path string) (*Line, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("uio: %s: %w", path, err)
	}
	return &Line{fd: fd, name: path}, nil
}

func (l *Line) String() string {
	return l.name
}

// Wait blocks until the next interrupt or until ctx is done. It returns
// the total number of interrupts seen by the kernel.
func (l *Line) Wait(ctx context.Context) (uint32, error) {
	if l.fd < 0 {
		return 0, ErrClosed
	}
	fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, fmt.Errorf("uio: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return 0, fmt.Errorf("uio: %s: poll events %#x", l.name, fds[0].Revents)
		}
		var buf [4]byte
		if _, err := unix.Read(l.fd, buf[:]); err != nil {
			return 0, fmt.Errorf("uio: read: %w", err)
		}
		return binary.NativeEndian.Uint32(buf[:]), nil
	}
}

// Unmask re-enables the interrupt.
func (l *Line) Unmask() error {
	if l.fd < 0 {
		return ErrClosed
	}
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], 1)
	if _, err := unix.Write(l.fd, buf[:]); err != nil {
		return fmt.Errorf("uio: unmask: %w", err)
	}
	return nil
}

func (l *Line) Close() error {
	if l.fd < 0 {
		return ErrClosed
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}
