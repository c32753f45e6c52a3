package can

// Closed classifications for the standardized error-frame payload bytes
// (<linux/can/error.h>). Unknown codes keep their raw value and stringify as
// unspecified/unknown; classification never fails.

// ControllerError is the controller problem code carried in payload byte 1.
type ControllerError uint8

const (
	CtrlUnspecified     ControllerError = 0x00
	CtrlRxOverflow      ControllerError = 0x01
	CtrlTxOverflow      ControllerError = 0x02
	CtrlRxWarning       ControllerError = 0x04
	CtrlTxWarning       ControllerError = 0x08
	CtrlRxPassive       ControllerError = 0x10
	CtrlTxPassive       ControllerError = 0x20
	CtrlRecoveredActive ControllerError = 0x40
)

func (e ControllerError) String() string {
	switch e {
	case CtrlUnspecified:
		return "unspecified controller error"
	case CtrlRxOverflow:
		return "receive overflow"
	case CtrlTxOverflow:
		return "transmit overflow"
	case CtrlRxWarning:
		return "receive warning level reached"
	case CtrlTxWarning:
		return "transmit warning level reached"
	case CtrlRxPassive:
		return "receive error passive"
	case CtrlTxPassive:
		return "transmit error passive"
	case CtrlRecoveredActive:
		return "recovered to error active"
	default:
		return "unknown controller error"
	}
}

// ProtocolError is the protocol violation type carried in payload byte 2.
type ProtocolError uint8

const (
	ProtUnspecified  ProtocolError = 0x00
	ProtSingleBit    ProtocolError = 0x01
	ProtFrameFormat  ProtocolError = 0x02
	ProtBitStuffing  ProtocolError = 0x04
	ProtDominantBit  ProtocolError = 0x08
	ProtRecessiveBit ProtocolError = 0x10
	ProtOverload     ProtocolError = 0x20
	ProtActive       ProtocolError = 0x40
	ProtTx           ProtocolError = 0x80
)

func (e ProtocolError) String() string {
	switch e {
	case ProtUnspecified:
		return "unspecified protocol error"
	case ProtSingleBit:
		return "single bit error"
	case ProtFrameFormat:
		return "frame format error"
	case ProtBitStuffing:
		return "bit stuffing error"
	case ProtDominantBit:
		return "unable to send dominant bit"
	case ProtRecessiveBit:
		return "unable to send recessive bit"
	case ProtOverload:
		return "bus overload"
	case ProtActive:
		return "active error announcement"
	case ProtTx:
		return "error occurred on transmission"
	default:
		return "unknown protocol error"
	}
}

// ProtocolErrorLocation is the bit position within the frame format at which
// a protocol violation was observed, carried in payload byte 3.
type ProtocolErrorLocation uint8

const (
	LocUnspecified   ProtocolErrorLocation = 0x00
	LocStartOfFrame  ProtocolErrorLocation = 0x03
	LocID28to21      ProtocolErrorLocation = 0x02
	LocID20to18      ProtocolErrorLocation = 0x06
	LocSubstituteRTR ProtocolErrorLocation = 0x04
	LocIDExtension   ProtocolErrorLocation = 0x05
	LocID17to13      ProtocolErrorLocation = 0x07
	LocID12to05      ProtocolErrorLocation = 0x0F
	LocID04to00      ProtocolErrorLocation = 0x0E
	LocRTR           ProtocolErrorLocation = 0x0C
	LocReservedBit1  ProtocolErrorLocation = 0x0D
	LocReservedBit0  ProtocolErrorLocation = 0x09
	LocDLC           ProtocolErrorLocation = 0x0B
	LocDataSection   ProtocolErrorLocation = 0x0A
	LocCRCSequence   ProtocolErrorLocation = 0x08
	LocCRCDelimiter  ProtocolErrorLocation = 0x18
	LocAckSlot       ProtocolErrorLocation = 0x19
	LocAckDelimiter  ProtocolErrorLocation = 0x1B
	LocEndOfFrame    ProtocolErrorLocation = 0x1A
	LocIntermission  ProtocolErrorLocation = 0x12
)

func (l ProtocolErrorLocation) String() string {
	switch l {
	case LocUnspecified:
		return "unspecified location"
	case LocStartOfFrame:
		return "start of frame"
	case LocID28to21:
		return "ID bits 28-21 (SFF 10-3)"
	case LocID20to18:
		return "ID bits 20-18 (SFF 2-0)"
	case LocSubstituteRTR:
		return "substitute RTR bit"
	case LocIDExtension:
		return "identifier extension bit"
	case LocID17to13:
		return "ID bits 17-13"
	case LocID12to05:
		return "ID bits 12-5"
	case LocID04to00:
		return "ID bits 4-0"
	case LocRTR:
		return "RTR bit"
	case LocReservedBit1:
		return "reserved bit 1"
	case LocReservedBit0:
		return "reserved bit 0"
	case LocDLC:
		return "data length code"
	case LocDataSection:
		return "data section"
	case LocCRCSequence:
		return "CRC sequence"
	case LocCRCDelimiter:
		return "CRC delimiter"
	case LocAckSlot:
		return "ACK slot"
	case LocAckDelimiter:
		return "ACK delimiter"
	case LocEndOfFrame:
		return "end of frame"
	case LocIntermission:
		return "intermission"
	default:
		return "unknown location"
	}
}

// TransceiverError is the transceiver status carried in payload byte 4.
type TransceiverError uint8

const (
	TrxUnspecified     TransceiverError = 0x00
	TrxCANHNoWire      TransceiverError = 0x04
	TrxCANHShortToBat  TransceiverError = 0x05
	TrxCANHShortToVCC  TransceiverError = 0x06
	TrxCANHShortToGND  TransceiverError = 0x07
	TrxCANLNoWire      TransceiverError = 0x40
	TrxCANLShortToBat  TransceiverError = 0x50
	TrxCANLShortToVCC  TransceiverError = 0x60
	TrxCANLShortToGND  TransceiverError = 0x70
	TrxCANLShortToCANH TransceiverError = 0x80
)

func (e TransceiverError) String() string {
	switch e {
	case TrxUnspecified:
		return "unspecified transceiver error"
	case TrxCANHNoWire:
		return "CANH no wire"
	case TrxCANHShortToBat:
		return "CANH short to battery"
	case TrxCANHShortToVCC:
		return "CANH short to VCC"
	case TrxCANHShortToGND:
		return "CANH short to ground"
	case TrxCANLNoWire:
		return "CANL no wire"
	case TrxCANLShortToBat:
		return "CANL short to battery"
	case TrxCANLShortToVCC:
		return "CANL short to VCC"
	case TrxCANLShortToGND:
		return "CANL short to ground"
	case TrxCANLShortToCANH:
		return "CANL short to CANH"
	default:
		return "unknown transceiver error"
	}
}
