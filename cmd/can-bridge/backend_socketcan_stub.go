//go:build !linux

package main

import "errors"

// Placeholder so non-linux builds compile; socketcan not supported.
var openBusSession = func(cfg *appConfig) (busDevice, error) {
	return nil, errors.New("socketcan backend unsupported on this platform")
}
