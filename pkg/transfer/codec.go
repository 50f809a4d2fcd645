package transfer

import "time"

// Codec is the downstream transport interface: the capability set a
// transport implementor (pkg/transport/can today; UDP or serial later)
// must supply. It is expressed as a Go generic interface rather than
// subclassing, so a Manager can be monomorphized per transport at
// compile time instead of paying for a virtual call on the codec hot
// path.
//
//   - F is the transport's link-layer frame type (e.g. pkg/can.Frame).
//   - FM is the transient per-frame metadata RxProcessFrame produces
//     and UpdateRxMetadata consumes (for CAN: just the toggle bit).
//   - RxMeta is the per-transfer RX transport state (CAN: CRC
//     accumulator + last toggle).
//   - TxMeta is the per-transfer TX transport state (CAN: first-frame
//     flag + next toggle), required to be zero-value constructible.
type Codec[F any, FM any, RxMeta any, TxMeta any] interface {
	// MTUSize is the maximum payload bytes per link-layer frame,
	// including any trailing framing byte (8 for classic CAN).
	MTUSize() int

	// CRCSize is the number of trailing CRC bytes a multi-frame
	// transfer appends (2 for classic CAN).
	CRCSize() int

	// GetCRCPaddedSize returns the buffer size needed to hold
	// requestedSize user bytes plus CRC and any transport padding.
	GetCRCPaddedSize(requestedSize int) int

	// RxProcessFrame validates and parses one inbound link-layer
	// frame, returning the protocol Frame and the transient
	// transport-level metadata extracted from it. It does not touch
	// per-transfer RX state; that is UpdateRxMetadata's job, called
	// once the manager has located (or created) the owning transfer.
	RxProcessFrame(raw F) (Frame, FM, error)

	// UpdateRxMetadata checks ordering (e.g. toggle alternation) and
	// folds this frame's payload into the transfer's RX accumulator
	// (e.g. the CRC). Called after NewTransfer's RxMeta allocation for
	// the first frame, and on every subsequent AppendFrame.
	UpdateRxMetadata(meta *RxMeta, frame *Frame, fm FM) error

	// ProcessTxCRC finalizes a TX buffer in place: computes the CRC
	// over buffer[:dataSize] (if the transport appends one) and
	// returns the final on-wire length including CRC and padding.
	ProcessTxCRC(buffer []byte, dataSize int) int

	// FinalizeRxPayload runs once per completed RX transfer, after the
	// frame carrying LastFrame has already been folded into meta and
	// appended to payload. It validates and strips any transport
	// trailer (CAN's appended CRC) before the manager hands payload to
	// the caller. singleFrame is true when the whole transfer was
	// exactly one frame, in which case no trailer was ever appended.
	FinalizeRxPayload(meta *RxMeta, payload []byte, singleFrame bool) ([]byte, error)

	// TransmitFrame consumes up to MTUSize()-1 bytes of data and
	// produces one outbound link-layer frame, advancing the transfer's
	// TX transport state (toggle, first-frame flag). Returns the
	// number of user bytes consumed (0 on error).
	TransmitFrame(meta *Metadata, txMeta *TxMeta, data []byte, localID NodeID, timestamp time.Time) (F, int, error)
}
