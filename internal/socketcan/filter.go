package socketcan

import "github.com/procsys/cansock/internal/can"

// FilterSet maps an identifier to its acceptance mask. A received frame
// passes when rxID & mask == filterID & mask for any entry. Installation
// always replaces the previous set wholesale.
type FilterSet map[can.ID]uint32

// MatchAll admits every frame on the bus.
func MatchAll() FilterSet { return FilterSet{0: 0} }

// Exact admits only the given identifier.
func Exact(id can.ID) FilterSet { return FilterSet{id: can.MaskExtended} }
