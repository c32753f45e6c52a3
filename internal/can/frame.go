package can

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// MaxDataLen is the classic CAN payload limit (DLC 0..8).
const MaxDataLen = 8

// ErrPayloadTooLarge is returned when a payload exceeds MaxDataLen bytes.
var ErrPayloadTooLarge = errors.New("can: payload exceeds 8 bytes")

// Error-frame payload byte offsets (<linux/can/error.h>): only the first Len
// bytes of Data are meaningful, the decoders below treat missing bytes as 0.
const (
	errByteLostArb     = 0 // bit number in the bitstream where arbitration was lost
	errByteController  = 1
	errByteProtocol    = 2
	errByteProtLoc     = 3
	errByteTransceiver = 4
	errByteTxCounter   = 6
	errByteRxCounter   = 7
)

// Frame is one classic CAN data frame. Only the first Len bytes of Data are
// valid. TimestampOffset is the optional kernel receive timestamp decoration
// (zero when telemetry collection is off).
//
// Frame is a value type: it is copied freely and never mutated after
// construction.
type Frame struct {
	ID              ID
	Len             uint8
	Data            [MaxDataLen]byte
	TimestampOffset time.Duration
}

// NewFrame builds a frame from an identifier and payload. Payloads longer
// than 8 bytes are rejected with ErrPayloadTooLarge, never truncated.
func NewFrame(id ID, payload []byte) (Frame, error) {
	if len(payload) > MaxDataLen {
		return Frame{}, fmt.Errorf("%w (got %d)", ErrPayloadTooLarge, len(payload))
	}
	f := Frame{ID: id, Len: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

// NewFrameAt is NewFrame with a receive timestamp offset.
func NewFrameAt(id ID, payload []byte, ts time.Duration) (Frame, error) {
	f, err := NewFrame(id, payload)
	if err != nil {
		return Frame{}, err
	}
	f.TimestampOffset = ts
	return f, nil
}

// FrameFromRaw wraps a kernel-delivered identifier/DLC/data triple without
// validation.
func FrameFromRaw(rawID uint32, dlc uint8, data [MaxDataLen]byte) Frame {
	if dlc > MaxDataLen {
		dlc = MaxDataLen
	}
	return Frame{ID: ID(rawID), Len: dlc, Data: data}
}

// Payload returns exactly Len bytes of frame data, never the unused tail.
func (f Frame) Payload() []byte { return f.Data[:f.Len] }

// Equal reports whether both frames carry the same identifier and the same
// Len payload bytes; unused buffer bytes are ignored.
func (f Frame) Equal(other Frame) bool {
	return f.ID == other.ID && f.Len == other.Len && bytes.Equal(f.Data[:f.Len], other.Data[:other.Len])
}

// IsErrorFrame reports whether this frame is an in-band error report.
func (f Frame) IsErrorFrame() bool { return f.ID.HasErrorFrameFlag() }

// IsRemoteRequest reports whether this frame is a remote transmission request.
func (f Frame) IsRemoteRequest() bool { return f.ID.HasRTRFlag() }

// dataByte reads payload byte i, yielding 0 for bytes beyond Len. Error-frame
// decoding therefore resolves to the unspecified classification instead of
// reading stale buffer contents.
func (f Frame) dataByte(i int) byte {
	if i >= int(f.Len) {
		return 0
	}
	return f.Data[i]
}

// Error-frame accessors. Flag tests delegate to the identifier; byte decoding
// follows the fixed payload layout. On a non-error frame the flags read false
// and the decoded values are meaningless but defined.

func (f Frame) HasBusError() bool          { return f.ID.HasBusError() }
func (f Frame) HasBusOffError() bool       { return f.ID.HasBusOffError() }
func (f Frame) HasControllerProblem() bool { return f.ID.HasControllerProblem() }
func (f Frame) HasLostArbitration() bool   { return f.ID.HasLostArbitration() }
func (f Frame) HasProtocolViolation() bool { return f.ID.HasProtocolViolation() }
func (f Frame) HasTransceiverStatus() bool { return f.ID.HasTransceiverStatus() }
func (f Frame) MissingAckOnTransmit() bool { return f.ID.MissingAckOnTransmit() }
func (f Frame) IsTxTimeout() bool          { return f.ID.IsTxTimeout() }

// ArbitrationLostBit returns the bit number in the bitstream at which
// arbitration was lost.
func (f Frame) ArbitrationLostBit() uint8 { return f.dataByte(errByteLostArb) }

// ControllerError decodes the controller problem classification.
func (f Frame) ControllerError() ControllerError {
	return ControllerError(f.dataByte(errByteController))
}

// ProtocolError decodes the protocol violation type and its location.
func (f Frame) ProtocolError() (ProtocolError, ProtocolErrorLocation) {
	return ProtocolError(f.dataByte(errByteProtocol)), ProtocolErrorLocation(f.dataByte(errByteProtLoc))
}

// TransceiverError decodes the transceiver status classification.
func (f Frame) TransceiverError() TransceiverError {
	return TransceiverError(f.dataByte(errByteTransceiver))
}

// TxErrorCounter returns the controller's transmit error counter (valid when
// the identifier carries the counters class bit).
func (f Frame) TxErrorCounter() uint8 { return f.dataByte(errByteTxCounter) }

// RxErrorCounter returns the controller's receive error counter.
func (f Frame) RxErrorCounter() uint8 { return f.dataByte(errByteRxCounter) }

func (f Frame) String() string {
	return fmt.Sprintf("%s [%d] % X", f.ID, f.Len, f.Payload())
}
