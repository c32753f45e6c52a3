package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/procsys/cansock/internal/can"
	"github.com/procsys/cansock/internal/hub"
	"github.com/procsys/cansock/internal/metrics"
	"github.com/procsys/cansock/internal/socketcan"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// busDevice is the slice of the driver session the backend needs.
// socketcan.Session implements it; tests substitute fakes.
type busDevice interface {
	WaitForFrames(timeout time.Duration) (bool, error)
	ReadQueuedFrames() ([]can.Frame, error)
	SendFrame(f can.Frame, forceExtended bool) (int, error)
	Close() error
}

// initBusBackend opens the CAN session, launches the RX drain loop and
// returns a frame sender plus cleanup. It returns an error instead of
// exiting the process to allow graceful handling by the caller.
func initBusBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	dev, err := openBusSession(cfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	tw := socketcan.NewTXWriter(ctx, dev, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("bus_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			ready, err := dev.WaitForFrames(rxWaitTimeout)
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				metrics.IncError(metrics.ErrBusRead)
				l.Warn("bus_wait_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			if !ready {
				continue
			}
			frames, err := dev.ReadQueuedFrames()
			for _, fr := range frames {
				if fr.IsErrorFrame() {
					metrics.IncBusError()
				} else {
					metrics.IncBusRx()
				}
				h.Broadcast(fr)
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrBusRead)
				l.Warn("bus_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			backoff = rxBackoffMin
		}
	}()
	return tw.SendFrame, func() { _ = dev.Close(); tw.Close() }, nil
}
