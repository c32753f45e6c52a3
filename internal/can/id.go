// Package can holds the CAN identifier and frame value model shared by the
// driver and the bridge. It is pure Go: all constants from <linux/can.h> and
// <linux/can/error.h> are defined locally so the package builds everywhere.
package can

import (
	"fmt"
	"strconv"
	"strings"
)

// Identifier flag bits and masks (same values as <linux/can.h>).
const (
	FlagExtended uint32 = 0x80000000 // EFF: extended (29-bit) frame format
	FlagRemote   uint32 = 0x40000000 // RTR: remote transmission request
	FlagError    uint32 = 0x20000000 // ERR: error message frame

	MaskStandard uint32 = 0x000007FF // valid bits of an 11-bit identifier
	MaskExtended uint32 = 0x1FFFFFFF // valid bits of a 29-bit identifier
)

// Error-class bits carried in the identifier of an error frame
// (<linux/can/error.h>).
const (
	ErrTxTimeout   uint32 = 0x00000001
	ErrLostArb     uint32 = 0x00000002
	ErrController  uint32 = 0x00000004
	ErrProtocol    uint32 = 0x00000008
	ErrTransceiver uint32 = 0x00000010
	ErrNoAck       uint32 = 0x00000020
	ErrBusOff      uint32 = 0x00000040
	ErrBusError    uint32 = 0x00000080
	ErrRestarted   uint32 = 0x00000100
	ErrCounters    uint32 = 0x00000200
)

// ID is a CAN identifier as carried on the wire: the numeric arbitration ID in
// the low bits plus the EFF/RTR/ERR control flags in the upper three bits.
// Being a defined uint32, native arithmetic and bitwise operators apply
// directly; all operations work on the raw value.
type ID uint32

// Valid reports whether v is a plain numeric identifier fitting 29 bits.
// Values carrying control flag bits do not pass; zero is valid
// (wildcard/default).
func Valid(v uint32) bool { return v <= MaskExtended }

// IsErrorFrame reports whether v has the error frame flag set.
func IsErrorFrame(v uint32) bool { return v&FlagError != 0 }

// IsExtendedFrame reports whether v has the extended frame format flag set.
func IsExtendedFrame(v uint32) bool { return v&FlagExtended != 0 }

// IsRemoteRequest reports whether v has the RTR flag set.
func IsRemoteRequest(v uint32) bool { return v&FlagRemote != 0 }

// ParseID parses a base-16 identifier string (an optional "0x"/"0X" prefix is
// accepted). Malformed input yields a wrapped strconv error.
func ParseID(s string) (ID, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(t, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("can: parse identifier %q: %w", s, err)
	}
	return ID(v), nil
}

// Raw returns the full encoded value including control bits.
func (id ID) Raw() uint32 { return uint32(id) }

// Value returns the numeric identifier with the control bits stripped.
func (id ID) Value() uint32 { return uint32(id) & MaskExtended }

// U16 narrows the masked numeric value to 16 bits by deterministic
// truncation. Oversized extended identifiers keep their low 16 bits; there is
// no failure mode.
func (id ID) U16() uint16 { return uint16(id.Value()) }

func (id ID) String() string { return fmt.Sprintf("0x%X", uint32(id)) }

// Valid reports whether the raw value fits 29 bits, i.e. carries no control
// flags and no out-of-range bits.
func (id ID) Valid() bool { return Valid(uint32(id)) }

// HasErrorFrameFlag reports whether this identifier marks an error frame.
func (id ID) HasErrorFrameFlag() bool { return IsErrorFrame(uint32(id)) }

// HasRTRFlag reports whether this identifier marks a remote transmission request.
func (id ID) HasRTRFlag() bool { return IsRemoteRequest(uint32(id)) }

// IsStandardFrameID reports whether this identifier uses the 11-bit format.
func (id ID) IsStandardFrameID() bool { return !IsExtendedFrame(uint32(id)) }

// IsExtendedFrameID reports whether this identifier uses the 29-bit format.
func (id ID) IsExtendedFrameID() bool { return IsExtendedFrame(uint32(id)) }

// Error sub-classification accessors. Each is meaningful only when the error
// frame flag is set; on a non-error identifier they all report false.

func (id ID) HasBusError() bool          { return id.errClass(ErrBusError) }
func (id ID) HasBusOffError() bool       { return id.errClass(ErrBusOff) }
func (id ID) HasControllerProblem() bool { return id.errClass(ErrController) }
func (id ID) HasControllerRestarted() bool {
	return id.errClass(ErrRestarted)
}
func (id ID) HasErrorCounters() bool      { return id.errClass(ErrCounters) }
func (id ID) HasLostArbitration() bool    { return id.errClass(ErrLostArb) }
func (id ID) HasProtocolViolation() bool  { return id.errClass(ErrProtocol) }
func (id ID) HasTransceiverStatus() bool  { return id.errClass(ErrTransceiver) }
func (id ID) MissingAckOnTransmit() bool  { return id.errClass(ErrNoAck) }
func (id ID) IsTxTimeout() bool           { return id.errClass(ErrTxTimeout) }
func (id ID) errClass(bit uint32) bool    { return id.HasErrorFrameFlag() && uint32(id)&bit != 0 }
