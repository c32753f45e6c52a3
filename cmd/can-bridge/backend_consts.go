package main

import "time"

const (
	txQueueSize   = 1024                   // capacity of async TX ring
	rxWaitTimeout = 500 * time.Millisecond // per select() wait before re-checking shutdown
	rxBackoffMin  = 20 * time.Millisecond
	rxBackoffMax  = 500 * time.Millisecond
)
