//go:build !linux

package main

import (
	"context"
	"errors"

	"uninasoc.org/memmap"
)

func openHardware(ctx context.Context, m *memmap.Map, uioPath string) (platform, error) {
	return nil, errors.New("hardware access requires linux")
}
