package transfer

import "fmt"

// RxError enumerates protocol violations detected while ingesting
// frames. A codec's RxProcessFrame/UpdateRxMetadata returns these;
// they propagate up through the manager to the dispatcher.
type RxError uint8

const (
	ErrTransferStartMissingToggle RxError = iota + 1
	ErrAnonNotSingleFrame
	ErrNonLastUnderUtilization
	ErrFrameEmpty
	ErrInvalidCanId
	ErrNewSessionNoStart
	ErrRxTimeout
	ErrInvalidFrameOrdering
	ErrCrc
	ErrInvalidPayload
	ErrMessageWithRemoteId
)

var rxErrorDescriptions = map[RxError]string{
	ErrTransferStartMissingToggle: "start-of-transfer frame without toggle bit set",
	ErrAnonNotSingleFrame:         "anonymous transfer spans more than one frame",
	ErrNonLastUnderUtilization:    "non-last frame does not fully utilize the MTU",
	ErrFrameEmpty:                 "frame payload is empty",
	ErrInvalidCanId:               "CAN identifier is malformed for its address space",
	ErrNewSessionNoStart:          "non-start frame received for an unknown transfer",
	ErrRxTimeout:                  "transfer timed out",
	ErrInvalidFrameOrdering:       "toggle bit did not alternate",
	ErrCrc:                        "CRC mismatch on reassembled payload",
	ErrInvalidPayload:             "payload is malformed",
	ErrMessageWithRemoteId:        "message frame carries a destination node id",
}

func (e RxError) Error() string {
	if desc, ok := rxErrorDescriptions[e]; ok {
		return fmt.Sprintf("rx error: %s", desc)
	}
	return "rx error: unknown"
}

// TxError enumerates caller-contract violations detected while
// building an outbound frame.
type TxError uint8

const (
	ErrTxAnonNotSingleFrame TxError = iota + 1
	ErrServiceNoSourceID
	ErrServiceNoDestinationID
)

var txErrorDescriptions = map[TxError]string{
	ErrTxAnonNotSingleFrame:   "multi-frame message transfer from an anonymous node",
	ErrServiceNoSourceID:      "service transfer requires a local node id",
	ErrServiceNoDestinationID: "service transfer requires a destination node id",
}

func (e TxError) Error() string {
	if desc, ok := txErrorDescriptions[e]; ok {
		return fmt.Sprintf("tx error: %s", desc)
	}
	return "tx error: unknown"
}

// CreateTransferError is returned by NewTransfer; CreateTransmission
// returns it wrapped in an InternalOrUserError.
type CreateTransferError uint8

const (
	ErrNoSpace CreateTransferError = iota + 1
	ErrAlreadyExists
)

func (e CreateTransferError) Error() string {
	switch e {
	case ErrNoSpace:
		return "no space to create a new transfer"
	case ErrAlreadyExists:
		return "a transfer with this identity already exists"
	default:
		return "create transfer error: unknown"
	}
}

// UpdateTransferError is returned by AppendFrame.
type UpdateTransferError struct {
	// Kind distinguishes the four cases; Rx is set only when Kind ==
	// UpdateErrRx.
	Kind UpdateErrKind
	Rx   RxError
}

type UpdateErrKind uint8

const (
	UpdateErrNoSpace UpdateErrKind = iota + 1
	UpdateErrDoesNotExist
	UpdateErrTimedOut
	UpdateErrRx
)

func (e UpdateTransferError) Error() string {
	switch e.Kind {
	case UpdateErrNoSpace:
		return "no space to extend transfer"
	case UpdateErrDoesNotExist:
		return "transfer does not exist"
	case UpdateErrTimedOut:
		return "transfer timed out"
	case UpdateErrRx:
		return e.Rx.Error()
	default:
		return "update transfer error: unknown"
	}
}

func (e UpdateTransferError) Unwrap() error {
	if e.Kind == UpdateErrRx {
		return e.Rx
	}
	return nil
}

// TokenAccessError is returned by WithRxTransfer, CancelRxTransfer,
// Transmit, and CancelTxTransfer when the token does not resolve to a
// live transfer.
type TokenAccessError uint8

const (
	ErrInvalidToken TokenAccessError = iota + 1
	ErrTransferTimeout
)

func (e TokenAccessError) Error() string {
	switch e {
	case ErrInvalidToken:
		return "token does not reference an existing transfer"
	case ErrTransferTimeout:
		return "transfer timed out"
	default:
		return "token access error: unknown"
	}
}

// InternalOrUserError wraps either an internal CreateTransferError or a
// user fill-callback error, for operations (CreateTransmission) where
// the caller's own callback can fail.
type InternalOrUserError struct {
	Internal CreateTransferError
	User     error
}

func (e *InternalOrUserError) Error() string {
	if e.User != nil {
		return fmt.Sprintf("user callback error: %s", e.User)
	}
	return e.Internal.Error()
}

func (e *InternalOrUserError) Unwrap() error {
	if e.User != nil {
		return e.User
	}
	return e.Internal
}
