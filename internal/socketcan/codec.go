package socketcan

import (
	"encoding/binary"

	"github.com/procsys/cansock/internal/can"
)

// FrameSize is the classic CAN MTU: the fixed length of one struct can_frame
// on the wire.
const FrameSize = 16

// struct can_frame (linux/can.h):
//   can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//   can_dlc u8    [4]
//   pad     3B    [5:8]
//   data    [8]   [8:16]
//
// The kernel provides fields in host byte order. On common Linux archs
// (little-endian) this matches binary.LittleEndian. If you ever target
// big-endian, switch to BigEndian here.

func marshalFrame(buf *[FrameSize]byte, rawID uint32, length uint8, data [can.MaxDataLen]byte) {
	binary.LittleEndian.PutUint32(buf[0:4], rawID)
	buf[4] = length
	copy(buf[8:], data[:length])
}

func unmarshalFrame(buf *[FrameSize]byte) can.Frame {
	dlc := buf[4]
	if dlc > can.MaxDataLen {
		dlc = can.MaxDataLen
	}
	var data [can.MaxDataLen]byte
	copy(data[:], buf[8:8+dlc])
	return can.FrameFromRaw(binary.LittleEndian.Uint32(buf[0:4]), dlc, data)
}
