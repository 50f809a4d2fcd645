// Package node implements the dispatcher: the thin coordination layer
// that filters inbound frames by addressing before handing them to a
// transfer.Store, and drives outbound transfers through a Store plus
// a transfer.Codec.
package node

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/gocyphal/pkg/transfer"
)

// Subscriber is the subscription-filter extension point: TryReceiveFrame
// asks it "does anyone care about this port_id / kind" after the
// addressing filter and before any store state is allocated, and drops
// the frame when it answers false. The default is AcceptAll.
type Subscriber interface {
	Interested(kind transfer.Kind, port transfer.PortID) bool
}

// AcceptAll is the default Subscriber: every frame is of interest.
// This is the no-op policy the core ships with; real filtering is
// intentionally left as a host concern.
type AcceptAll struct{}

func (AcceptAll) Interested(transfer.Kind, transfer.PortID) bool { return true }

// Node owns an optional local node identifier and a transfer.Store. It
// is generic over exactly one transport's associated types, matching
// the transport codec it was constructed with, expressed with Go's
// type parameters in place of Rust's associated types.
type Node[F any, FM any, RxMeta any, TxMeta any] struct {
	localID    transfer.NodeID
	codec      transfer.Codec[F, FM, RxMeta, TxMeta]
	store      transfer.Store[F, FM, RxMeta, TxMeta]
	subscriber Subscriber
	logger     logrus.FieldLogger
}

// Option configures a Node at construction time.
type Option[F any, FM any, RxMeta any, TxMeta any] func(*Node[F, FM, RxMeta, TxMeta])

// WithSubscriber overrides the default AcceptAll policy.
func WithSubscriber[F any, FM any, RxMeta any, TxMeta any](s Subscriber) Option[F, FM, RxMeta, TxMeta] {
	return func(n *Node[F, FM, RxMeta, TxMeta]) { n.subscriber = s }
}

// WithLogger overrides the default logger, logrus.StandardLogger().
func WithLogger[F any, FM any, RxMeta any, TxMeta any](logger logrus.FieldLogger) Option[F, FM, RxMeta, TxMeta] {
	return func(n *Node[F, FM, RxMeta, TxMeta]) { n.logger = logger }
}

// New constructs a Node bound to one codec and store. localID is
// transfer.NoNodeID for an anonymous node.
func New[F any, FM any, RxMeta any, TxMeta any](
	localID transfer.NodeID,
	codec transfer.Codec[F, FM, RxMeta, TxMeta],
	store transfer.Store[F, FM, RxMeta, TxMeta],
	opts ...Option[F, FM, RxMeta, TxMeta],
) *Node[F, FM, RxMeta, TxMeta] {
	n := &Node[F, FM, RxMeta, TxMeta]{
		localID:    localID,
		codec:      codec,
		store:      store,
		subscriber: AcceptAll{},
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// TryReceiveFrame runs one inbound link-layer frame through the codec,
// the addressing filter, and the store, in a fixed order: decode,
// filter, subscription hook, append-or-create.
func (n *Node[F, FM, RxMeta, TxMeta]) TryReceiveFrame(raw F) (*transfer.RxToken, error) {
	frame, fm, err := n.codec.RxProcessFrame(raw)
	if err != nil {
		return nil, err
	}

	switch frame.Metadata.Kind {
	case transfer.Message:
		if frame.Metadata.Destination.IsSet() {
			return nil, transfer.ErrMessageWithRemoteId
		}
	case transfer.Request, transfer.Response:
		dst, ok := frame.Metadata.Destination.Get()
		local, haveLocal := n.localID.Get()
		if !ok || !haveLocal || dst != local {
			return nil, nil
		}
	}

	if !n.subscriber.Interested(frame.Metadata.Kind, frame.Metadata.PortID) {
		return nil, nil
	}

	token, err := n.store.AppendFrame(&frame, fm)
	if err == nil {
		return token, nil
	}

	var updateErr transfer.UpdateTransferError
	if !isUpdateTransferError(err, &updateErr) {
		return nil, err
	}

	switch updateErr.Kind {
	case transfer.UpdateErrDoesNotExist:
		if !frame.FirstFrame {
			return nil, transfer.ErrNewSessionNoStart
		}
		token, err := n.store.NewTransfer(&frame, fm)
		if err != nil {
			if createErr, ok := err.(transfer.CreateTransferError); ok && createErr == transfer.ErrNoSpace {
				n.logger.WithFields(logrus.Fields{
					"port_id": frame.Metadata.PortID,
					"kind":    frame.Metadata.Kind,
				}).Debug("dropping new rx transfer: no space")
				return nil, nil
			}
			return nil, err
		}
		return token, nil
	case transfer.UpdateErrNoSpace:
		n.logger.WithFields(logrus.Fields{
			"port_id": frame.Metadata.PortID,
			"kind":    frame.Metadata.Kind,
		}).Debug("dropping rx frame: no space to extend transfer")
		return nil, nil
	default:
		return nil, updateErr
	}
}

func isUpdateTransferError(err error, target *transfer.UpdateTransferError) bool {
	if ute, ok := err.(transfer.UpdateTransferError); ok {
		*target = ute
		return true
	}
	return false
}

// StartTxTransfer builds a transfer.Metadata from the given fields and
// forwards to the store's CreateTransmission. destination is ignored
// for Message transfers.
func (n *Node[F, FM, RxMeta, TxMeta]) StartTxTransfer(
	size int,
	timestamp time.Time,
	priority transfer.Priority,
	portID transfer.PortID,
	kind transfer.Kind,
	destination transfer.NodeID,
	transferID transfer.TransferID,
	fill func([]byte) (int, error),
) (transfer.TxToken, error) {
	meta := transfer.Metadata{
		Timestamp:  timestamp,
		Priority:   priority,
		Kind:       kind,
		PortID:     portID,
		Source:     n.localID,
		TransferID: transferID,
	}
	if kind == transfer.Request || kind == transfer.Response {
		meta.Destination = destination
	}
	return n.store.CreateTransmission(size, &meta, fill)
}

// TransmitFrame drives one step of an outbound transfer: it asks the
// store for the remaining payload and TX transport metadata, hands
// both to the codec, and cancels the transfer if the codec rejects it
// (e.g. a service transfer missing its destination).
func (n *Node[F, FM, RxMeta, TxMeta]) TransmitFrame(token transfer.TxToken, timestamp time.Time) (F, *transfer.TxToken, error) {
	var (
		frame      F
		codecErr   error
		frameBuilt bool
	)

	next, err := n.store.Transmit(token, func(meta *transfer.Metadata, txMeta *TxMeta, data []byte) int {
		f, consumed, err := n.codec.TransmitFrame(meta, txMeta, data, n.localID, timestamp)
		if err != nil {
			codecErr = err
			return 0
		}
		frame = f
		frameBuilt = true
		return consumed
	})
	if codecErr != nil {
		_ = n.store.CancelTxTransfer(token)
		var zero F
		return zero, nil, codecErr
	}
	if err != nil {
		var zero F
		return zero, nil, err
	}
	if !frameBuilt {
		var zero F
		return zero, nil, transfer.ErrInvalidToken
	}
	return frame, next, nil
}

// UpdateTransfers is a passthrough to the store's timeout sweep.
func (n *Node[F, FM, RxMeta, TxMeta]) UpdateTransfers(now time.Time, timeout time.Duration) {
	n.store.UpdateTransfers(now, timeout)
}

// LocalID returns the node's own identifier, or NoNodeID if anonymous.
func (n *Node[F, FM, RxMeta, TxMeta]) LocalID() transfer.NodeID {
	return n.localID
}
