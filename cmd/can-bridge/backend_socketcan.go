//go:build linux

package main

import (
	"fmt"

	"github.com/procsys/cansock/internal/link"
	"github.com/procsys/cansock/internal/socketcan"
)

// openBusSession is a hook for tests (overridden in unit tests).
var openBusSession = func(cfg *appConfig) (busDevice, error) {
	if cfg.canBitrate > 0 {
		if err := link.Bring(cfg.canIf, uint32(cfg.canBitrate)); err != nil {
			return nil, fmt.Errorf("link bring %s: %w", cfg.canIf, err)
		}
	}
	s, err := socketcan.Open(cfg.canIf)
	if err != nil {
		return nil, err
	}
	if cfg.echoOwn {
		if err := s.SetEchoOwnFrames(true); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}
