//go:build !linux

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "can-dump: SocketCAN requires linux")
	os.Exit(1)
}
