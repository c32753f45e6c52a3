package socketcan

import (
	"context"
	"errors"

	"github.com/procsys/cansock/internal/can"
	"github.com/procsys/cansock/internal/metrics"
	"github.com/procsys/cansock/internal/transport"
)

// ErrTxOverflow is returned when the asynchronous TX buffer is full.
var ErrTxOverflow = errors.New("socketcan: tx overflow")

// BusWriter is the minimal send surface needed by TXWriter.
// Implemented by *Session in production and by fakes in tests.
type BusWriter interface {
	SendFrame(f can.Frame, forceExtended bool) (int, error)
}

// TXWriter funnels all bus writes through a single goroutine so concurrent
// bridge clients never interleave partial writes or block each other on a
// busy bus.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a bus TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, bus BusWriter, buf int) *TXWriter {
	send := func(fr can.Frame) error {
		_, err := bus.SendFrame(fr, false)
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) { metrics.IncError(metrics.ErrBusWrite) },
		OnAfter: metrics.IncBusTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrBusOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous bus write (drops with
// ErrTxOverflow if the buffer is full).
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Close stops the writer and waits for the worker goroutine to finish.
func (w *TXWriter) Close() { w.base.Close() }
