package transfer

import "time"

// RxToken and TxToken are opaque handles returned by a Store. They are
// values, not pointers into the store: the identity they carry is the
// same non-timestamp key a transfer is looked up by, so a duplicate
// token is simply rejected on lookup rather than silently aliasing a
// different transfer's memory. Key is exported so Store implementations
// outside this package can construct and compare tokens, but callers
// should treat a token as opaque.
type RxToken struct{ Key Identity }
type TxToken struct{ Key Identity }

// Store is the transfer manager's operation set. It exclusively owns
// every in-flight RX and TX transfer;
// implementations may back it with a heap-allocated map
// (pkg/transfer/heap) or a fixed-capacity arena
// (pkg/transfer/arena) without changing this contract.
//
// No operation may block or spawn goroutines: the engine is
// single-threaded and cooperative. Fill/read callbacks passed in by
// the caller are invoked inline and must not suspend either.
type Store[F any, FM any, RxMeta any, TxMeta any] interface {
	// AppendFrame extends an existing RX transfer with frame, applying
	// the codec's UpdateRxMetadata hook first. Returns a token once
	// the frame completing the transfer (LastFrame) arrives.
	AppendFrame(frame *Frame, fm FM) (*RxToken, error)

	// NewTransfer begins tracking a new RX transfer from its first
	// frame. Callers must have already verified no transfer with this
	// identity exists and that frame.FirstFrame is true. Returns a
	// token immediately if frame.LastFrame is also true (a
	// single-frame transfer completes on creation).
	NewTransfer(frame *Frame, fm FM) (*RxToken, error)

	// WithRxTransfer consumes token, handing cb read-only access to
	// the assembled metadata and payload, then frees the transfer.
	WithRxTransfer(token RxToken, cb func(*Metadata, []byte)) error

	// CancelRxTransfer frees an in-progress or completed RX transfer
	// without reading it.
	CancelRxTransfer(token RxToken) error

	// CreateTransmission allocates a TX transfer of
	// GetCRCPaddedSize(requestedSize) bytes, hands the first
	// requestedSize bytes to fill, applies the codec's CRC/padding
	// step to fill's reported length, and stores the result.
	CreateTransmission(requestedSize int, meta *Metadata, fill func([]byte) (int, error)) (TxToken, error)

	// Transmit hands cb the unconsumed remainder of a TX transfer's
	// payload plus its transport TX metadata; cb returns the number of
	// bytes consumed. Returns the same token again while bytes remain,
	// or nil once exhausted (the transfer is then freed).
	Transmit(token TxToken, cb func(meta *Metadata, txMeta *TxMeta, data []byte) int) (*TxToken, error)

	// CancelTxTransfer frees an in-progress TX transfer.
	CancelTxTransfer(token TxToken) error

	// UpdateTransfers marks any Active entry whose last-touched
	// timestamp is older than now-timeout as TimedOut. It never
	// mutates a TimedOut entry back to Active, and reaps TimedOut
	// entries that have already survived one prior sweep.
	UpdateTransfers(now time.Time, timeout time.Duration)
}
