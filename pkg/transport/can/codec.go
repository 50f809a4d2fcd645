// Package can implements transfer.Codec for classic CAN 2.0B, the
// "reference" transport: 29-bit extended identifiers, an 8-byte MTU
// with the last byte reserved for framing, and a 16-bit CRC appended
// to multi-frame payloads.
package can

import (
	"time"

	"github.com/samsamfire/gocyphal/internal/crc"
	"github.com/samsamfire/gocyphal/pkg/can"
	"github.com/samsamfire/gocyphal/pkg/transfer"
)

const (
	mtuSize = 8
	crcSize = 2
)

// FrameMetadata is the transient, per-frame state RxProcessFrame
// hands to UpdateRxMetadata: just the toggle bit extracted from the
// tail byte.
type FrameMetadata struct {
	Toggle bool
}

// RxMetadata is the per-transfer RX transport state: the rolling CRC
// accumulator and the last-seen toggle bit. The toggle is initialized
// inverted so the first frame's toggle of true is accepted.
type RxMetadata struct {
	crc    crc.CRC16
	toggle bool
}

// TxMetadata is the per-transfer TX transport state. Both flags are
// stored inverted so that the zero value, which the stores create for
// every new TX transfer, means "first frame, toggle set", matching the
// start-of-transfer invariant (SOT frames must have toggle set).
type TxMetadata struct {
	started       bool // inverse of the first-frame flag
	toggleCleared bool // inverse of the next toggle bit
}

// NewTxMetadata returns a zero-value TxMetadata ready for the first
// frame of a new TX transfer.
func NewTxMetadata() TxMetadata {
	return TxMetadata{}
}

// Codec implements transfer.Codec[can.Frame, FrameMetadata, RxMetadata, TxMetadata].
type Codec struct{}

func New() Codec { return Codec{} }

func (Codec) MTUSize() int { return mtuSize }
func (Codec) CRCSize() int { return crcSize }

func (Codec) GetCRCPaddedSize(requestedSize int) int {
	return requestedSize + crcSize
}

func (Codec) RxProcessFrame(raw can.Frame) (transfer.Frame, FrameMetadata, error) {
	data := raw.Payload()
	if len(data) == 0 {
		return transfer.Frame{}, FrameMetadata{}, transfer.ErrFrameEmpty
	}

	tail := tailByte(data[len(data)-1])
	userData := data[:len(data)-1]

	if tail.startOfTransfer() && !tail.toggle() {
		return transfer.Frame{}, FrameMetadata{}, transfer.ErrTransferStartMissingToggle
	}
	if !tail.endOfTransfer() && len(data) < mtuSize {
		return transfer.Frame{}, FrameMetadata{}, transfer.ErrNonLastUnderUtilization
	}

	id := raw.ID & can.EffMask

	if canServiceID(id).isSvc() {
		svc := canServiceID(id)
		if !svc.valid() {
			return transfer.Frame{}, FrameMetadata{}, transfer.ErrInvalidCanId
		}
		kind := transfer.Response
		if svc.isReq() {
			kind = transfer.Request
		}
		frame := transfer.Frame{
			Metadata: transfer.Metadata{
				Priority:    svc.priority(),
				Kind:        kind,
				PortID:      svc.serviceID(),
				Source:      transfer.NewNodeID(svc.sourceID()),
				Destination: transfer.NewNodeID(svc.destinationID()),
				TransferID:  tail.transferID(),
			},
			Payload:    userData,
			FirstFrame: tail.startOfTransfer(),
			LastFrame:  tail.endOfTransfer(),
		}
		return frame, FrameMetadata{Toggle: tail.toggle()}, nil
	}

	msg := canMessageID(id)
	var source transfer.NodeID
	if msg.isAnon() {
		if !(tail.startOfTransfer() && tail.endOfTransfer()) {
			return transfer.Frame{}, FrameMetadata{}, transfer.ErrAnonNotSingleFrame
		}
		source = transfer.NoNodeID
	} else {
		source = transfer.NewNodeID(msg.sourceID())
	}
	if !msg.valid() {
		return transfer.Frame{}, FrameMetadata{}, transfer.ErrInvalidCanId
	}

	frame := transfer.Frame{
		Metadata: transfer.Metadata{
			Priority:   msg.priority(),
			Kind:       transfer.Message,
			PortID:     msg.subjectID(),
			Source:     source,
			TransferID: tail.transferID(),
		},
		Payload:    userData,
		FirstFrame: tail.startOfTransfer(),
		LastFrame:  tail.endOfTransfer(),
	}
	return frame, FrameMetadata{Toggle: tail.toggle()}, nil
}

func (Codec) UpdateRxMetadata(meta *RxMetadata, frame *transfer.Frame, fm FrameMetadata) error {
	if fm.Toggle == meta.toggle {
		return transfer.ErrInvalidFrameOrdering
	}
	meta.toggle = fm.Toggle

	if frame.FirstFrame {
		meta.crc = crc.Init
	}

	// Every payload byte is folded in, including the trailing CRC of a
	// multi-frame transfer, which may be split across its last two
	// frames; FinalizeRxPayload accounts for the trailer.
	meta.crc.Block(frame.Payload)
	return nil
}

// FinalizeRxPayload strips and verifies the trailing CRC appended to a
// multi-frame transfer's reassembled payload. Single-frame transfers
// never carry one on CAN, so payload is returned unchanged.
func (Codec) FinalizeRxPayload(meta *RxMetadata, payload []byte, singleFrame bool) ([]byte, error) {
	if singleFrame {
		return payload, nil
	}
	if len(payload) < crcSize {
		return nil, transfer.ErrInvalidPayload
	}
	data := payload[:len(payload)-crcSize]
	trailer := payload[len(payload)-crcSize:]
	got := uint16(trailer[0]) | uint16(trailer[1])<<8
	// meta.crc has digested the user bytes followed by the trailer.
	// Digesting one byte is a one-to-one map on the CRC state, so the
	// user bytes' CRC equals got exactly when digesting the trailer
	// starting from got reaches the same state.
	check := crc.CRC16(got)
	check.Block(trailer)
	if check != meta.crc {
		return nil, transfer.ErrCrc
	}
	return data, nil
}

// ProcessTxCRC computes the CRC over buffer[:dataSize] when the
// transfer spans more than one frame (dataSize > mtuSize-1 worth of
// user bytes means at least 2 frames will be needed once the tail
// byte is accounted for) and writes it low-byte-first immediately
// after the user data, returning the final on-wire length. Single-
// frame transfers never carry a CRC on CAN.
func (Codec) ProcessTxCRC(buffer []byte, dataSize int) int {
	if dataSize <= mtuSize-1 {
		return dataSize
	}
	acc := crc.Init
	acc.Block(buffer[:dataSize])
	v := uint16(acc)
	buffer[dataSize] = byte(v)
	buffer[dataSize+1] = byte(v >> 8)
	return dataSize + crcSize
}

func (Codec) TransmitFrame(meta *transfer.Metadata, txMeta *TxMetadata, data []byte, localID transfer.NodeID, timestamp time.Time) (can.Frame, int, error) {
	firstFrame := !txMeta.started
	consumeLen := len(data)
	if consumeLen > mtuSize-1 {
		consumeLen = mtuSize - 1
	}
	lastFrame := len(data) <= mtuSize-1
	toggle := !txMeta.toggleCleared

	txMeta.started = true
	txMeta.toggleCleared = toggle

	var id uint32
	switch meta.Kind {
	case transfer.Message:
		if !lastFrame && !localID.IsSet() {
			return can.Frame{}, 0, transfer.ErrTxAnonNotSingleFrame
		}
		id = uint32(newCanMessageID(meta.Priority, meta.PortID, localID))
	case transfer.Request, transfer.Response:
		svcID, err := newCanServiceID(meta.Priority, meta.Kind == transfer.Request, meta.PortID, meta.Destination, localID)
		if err != nil {
			return can.Frame{}, 0, err
		}
		id = uint32(svcID)
	}

	tail := newTailByte(firstFrame, lastFrame, toggle, meta.TransferID)

	var payload [8]byte
	copy(payload[:], data[:consumeLen])
	payload[consumeLen] = byte(tail)

	frame := can.Frame{
		ID:   id | can.EffFlag,
		Data: payload,
		DLC:  uint8(consumeLen + 1),
	}
	return frame, consumeLen, nil
}

var _ transfer.Codec[can.Frame, FrameMetadata, RxMetadata, TxMetadata] = Codec{}
