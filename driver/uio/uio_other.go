//go:build !linux

package uio

import (
	"context"
	"errors"
)

var (
	ErrClosed = errors.New("uio: line closed")

	errUnsupported = errors.New("uio: not supported on this platform")
)

type Line struct{}

func Open(path string) (*Line, error) {
	return nil, errUnsupported
}

func (l *Line) String() string {
	return "uio"
}

func (l *Line) Wait(ctx context.Context) (uint32, error) {
	return 0, errUnsupported
}

func (l *Line) Unmask() error {
	return errUnsupported
}

func (l *Line) Close() error {
	return errUnsupported
}
