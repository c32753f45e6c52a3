//go:build linux

// Command can-dump is a minimal example: it opens a raw CAN interface,
// sends a probe frame and prints everything arriving on the bus,
// decoding kernel error frames into readable classifications.
//
// Usage: can-dump <iface> [bitrate]
//
// When a bitrate is given the interface is reconfigured and brought up
// first (requires CAP_NET_ADMIN).
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/procsys/cansock/internal/can"
	"github.com/procsys/cansock/internal/link"
	"github.com/procsys/cansock/internal/socketcan"
)

const waitTimeout = 500 * time.Millisecond

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "can-dump:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: can-dump <iface> [bitrate]")
	}
	iface := args[0]
	if len(args) == 2 {
		bitrate, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("bitrate %q: %w", args[1], err)
		}
		if err := link.Bring(iface, uint32(bitrate)); err != nil {
			return fmt.Errorf("bring %s up: %w", iface, err)
		}
	}

	sess, err := socketcan.Open(iface)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.SetErrorFilter(true); err != nil {
		return err
	}

	probe, err := can.NewFrame(0x555, []byte("abcdefgh"))
	if err != nil {
		return err
	}
	if _, err := sess.SendFrame(probe, false); err != nil {
		return fmt.Errorf("send probe: %w", err)
	}

	for {
		ready, err := sess.WaitForFrames(waitTimeout)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		if !ready {
			continue
		}
		frames, err := sess.ReadQueuedFrames()
		for _, fr := range frames {
			printFrame(fr)
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}
}

func printFrame(fr can.Frame) {
	if !fr.IsErrorFrame() {
		fmt.Printf("%s  [%d] % X\n", fr.ID, fr.Len, fr.Payload())
		return
	}
	fmt.Printf("%s  ERROR", fr.ID)
	if fr.IsTxTimeout() {
		fmt.Print("  tx-timeout")
	}
	if fr.HasLostArbitration() {
		fmt.Printf("  lost-arbitration(bit %d)", fr.ArbitrationLostBit())
	}
	if fr.HasControllerProblem() {
		fmt.Printf("  controller: %s", fr.ControllerError())
	}
	if fr.HasProtocolViolation() {
		perr, loc := fr.ProtocolError()
		fmt.Printf("  protocol: %s at %s", perr, loc)
	}
	if fr.HasTransceiverStatus() {
		fmt.Printf("  transceiver: %s", fr.TransceiverError())
	}
	if fr.MissingAckOnTransmit() {
		fmt.Print("  no-ack")
	}
	if fr.HasBusOffError() {
		fmt.Print("  bus-off")
	}
	if fr.HasBusError() {
		fmt.Print("  bus-error")
	}
	if fr.ID.HasControllerRestarted() {
		fmt.Print("  restarted")
	}
	if fr.ID.HasErrorCounters() {
		fmt.Printf("  counters(tx=%d rx=%d)", fr.TxErrorCounter(), fr.RxErrorCounter())
	}
	fmt.Println()
}
