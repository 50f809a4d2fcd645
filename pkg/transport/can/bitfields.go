package can

import "github.com/samsamfire/gocyphal/pkg/transfer"

// 29-bit extended CAN identifier layout. Message and service frames
// share the priority field and the "service, not message" bit; every
// other bit is reinterpreted depending on that bit's value. Offsets
// and widths below mirror the wire layout used by every Cyphal/CAN
// implementation: priority sits at the top so arbitration always
// favors the highest-priority frame regardless of address-space.
const (
	offsetPriority  = 26
	widthPriority   = 3
	bitServiceFlag  = 25
	bitAnonymous    = 24 // message frames only
	bitRequest      = 24 // service frames only; same position as bitAnonymous
	bitReserved23   = 23
	offsetServiceID = 14
	widthServiceID  = 9
	offsetSubjectID = 8
	widthSubjectID  = 13
	offsetDstNodeID = 7
	widthNodeID     = 7
	offsetSrcNodeID = 0
)

func mask(width uint) uint32 {
	return (uint32(1) << width) - 1
}

func bitSet(id uint32, bit uint) bool {
	return id&(1<<bit) != 0
}

// canMessageID decodes/encodes the message address space (bit 25 = 0).
type canMessageID uint32

func (id canMessageID) priority() transfer.Priority {
	return transfer.Priority((uint32(id) >> offsetPriority) & mask(widthPriority))
}

func (id canMessageID) isAnon() bool {
	return bitSet(uint32(id), bitAnonymous)
}

func (id canMessageID) subjectID() transfer.PortID {
	return transfer.PortID((uint32(id) >> offsetSubjectID) & mask(widthSubjectID))
}

func (id canMessageID) sourceID() uint8 {
	return uint8(uint32(id) & mask(widthNodeID))
}

// valid reports whether the reserved bits (23, 22, 21, 7) are zero, per
// the protocol's wire-compatibility rule: unknown bit patterns in the
// reserved positions are rejected rather than silently accepted.
func (id canMessageID) valid() bool {
	const reservedMask = uint32(1)<<bitReserved23 | uint32(1)<<22 | uint32(1)<<21 | uint32(1)<<offsetDstNodeID
	return uint32(id)&reservedMask == 0
}

func newCanMessageID(priority transfer.Priority, subject transfer.PortID, source transfer.NodeID) canMessageID {
	id := (uint32(priority) & mask(widthPriority)) << offsetPriority
	id |= (uint32(subject) & mask(widthSubjectID)) << offsetSubjectID
	if src, ok := source.Get(); ok {
		id |= uint32(src) & mask(widthNodeID)
	} else {
		id |= uint32(1) << bitAnonymous
	}
	return canMessageID(id)
}

// canServiceID decodes/encodes the service address space (bit 25 = 1).
type canServiceID uint32

func (id canServiceID) isSvc() bool {
	return bitSet(uint32(id), bitServiceFlag)
}

func (id canServiceID) priority() transfer.Priority {
	return transfer.Priority((uint32(id) >> offsetPriority) & mask(widthPriority))
}

func (id canServiceID) isReq() bool {
	return bitSet(uint32(id), bitRequest)
}

func (id canServiceID) serviceID() transfer.PortID {
	return transfer.PortID((uint32(id) >> offsetServiceID) & mask(widthServiceID))
}

func (id canServiceID) destinationID() uint8 {
	return uint8((uint32(id) >> offsetDstNodeID) & mask(widthNodeID))
}

func (id canServiceID) sourceID() uint8 {
	return uint8(uint32(id) & mask(widthNodeID))
}

func (id canServiceID) valid() bool {
	return uint32(id)&(uint32(1)<<bitReserved23) == 0
}

func newCanServiceID(priority transfer.Priority, isRequest bool, service transfer.PortID, destination, source transfer.NodeID) (canServiceID, error) {
	src, ok := source.Get()
	if !ok {
		return 0, transfer.ErrServiceNoSourceID
	}
	dst, ok := destination.Get()
	if !ok {
		return 0, transfer.ErrServiceNoDestinationID
	}
	id := uint32(1) << bitServiceFlag
	id |= (uint32(priority) & mask(widthPriority)) << offsetPriority
	if isRequest {
		id |= uint32(1) << bitRequest
	}
	id |= (uint32(service) & mask(widthServiceID)) << offsetServiceID
	id |= (uint32(dst) & mask(widthNodeID)) << offsetDstNodeID
	id |= uint32(src) & mask(widthNodeID)
	return canServiceID(id), nil
}

// tailByte is the final byte of every CAN/Cyphal frame: start-of-
// transfer, end-of-transfer, toggle, and a 5-bit modular transfer id.
type tailByte uint8

const (
	tailBitStart   = 7
	tailBitEnd     = 6
	tailBitToggle  = 5
	tailMaskTferID = 0x1F
)

func (t tailByte) startOfTransfer() bool { return bitSet(uint32(t), tailBitStart) }
func (t tailByte) endOfTransfer() bool   { return bitSet(uint32(t), tailBitEnd) }
func (t tailByte) toggle() bool          { return bitSet(uint32(t), tailBitToggle) }
func (t tailByte) transferID() transfer.TransferID {
	return transfer.TransferID(uint8(t) & tailMaskTferID)
}

func newTailByte(start, end, toggle bool, tid transfer.TransferID) tailByte {
	var b uint8
	if start {
		b |= 1 << tailBitStart
	}
	if end {
		b |= 1 << tailBitEnd
	}
	if toggle {
		b |= 1 << tailBitToggle
	}
	b |= uint8(tid) & tailMaskTferID
	return tailByte(b)
}
