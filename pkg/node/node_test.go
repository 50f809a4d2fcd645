package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsamfire/gocyphal/pkg/can"
	"github.com/samsamfire/gocyphal/pkg/transfer"
	"github.com/samsamfire/gocyphal/pkg/transfer/heap"
	cancodec "github.com/samsamfire/gocyphal/pkg/transport/can"
)

func newTestNode(localID transfer.NodeID) *Node[can.Frame, cancodec.FrameMetadata, cancodec.RxMetadata, cancodec.TxMetadata] {
	codec := cancodec.New()
	store := heap.New[can.Frame, cancodec.FrameMetadata, cancodec.RxMetadata, cancodec.TxMetadata](codec, nil)
	return New[can.Frame, cancodec.FrameMetadata, cancodec.RxMetadata, cancodec.TxMetadata](localID, codec, store)
}

func canFrame(id uint32, data ...byte) can.Frame {
	f := can.Frame{ID: id | can.EffFlag, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

// Round trip: TX a message through StartTxTransfer/TransmitFrame, feed
// the resulting raw frames back into a second node's TryReceiveFrame.
func TestNode_RoundTripSingleFrameMessage(t *testing.T) {
	sender := newTestNode(transfer.NewNodeID(5))
	receiver := newTestNode(transfer.NoNodeID)

	tok, err := sender.StartTxTransfer(3, time.Now(), transfer.Nominal, 0x10, transfer.Message, transfer.NoNodeID, 7,
		func(b []byte) (int, error) {
			copy(b, []byte{0xDE, 0xAD, 0xBE})
			return 3, nil
		})
	require.NoError(t, err)

	raw, next, err := sender.TransmitFrame(tok, time.Now())
	require.NoError(t, err)
	assert.Nil(t, next)

	rxTok, err := receiver.TryReceiveFrame(raw)
	require.NoError(t, err)
	require.NotNil(t, rxTok)

	err = receiver.store.WithRxTransfer(*rxTok, func(meta *transfer.Metadata, payload []byte) {
		assert.Equal(t, []byte{0xDE, 0xAD, 0xBE}, payload)
		assert.Equal(t, transfer.Message, meta.Kind)
	})
	require.NoError(t, err)
}

// Scenario 5: service frame addressed to someone else is silently dropped.
func TestNode_ServiceForSomeoneElseIsDropped(t *testing.T) {
	n := newTestNode(transfer.NewNodeID(42))

	svcID, err := newCanServiceIDForTest(transfer.High, true, 50, transfer.NewNodeID(17), transfer.NewNodeID(9))
	require.NoError(t, err)
	tail := byte(0xE0) // SOT=1 EOT=1 toggle=1 tid=0

	tok, err := n.TryReceiveFrame(canFrame(svcID, 0x01, tail))
	require.NoError(t, err)
	assert.Nil(t, tok)
}

// Scenario 6: transmitting a service without a local node id fails and
// cancels the transfer.
func TestNode_TxServiceWithoutSourceIsCancelled(t *testing.T) {
	n := newTestNode(transfer.NoNodeID)

	tok, err := n.StartTxTransfer(3, time.Now(), transfer.Nominal, 50, transfer.Request, transfer.NewNodeID(7), 1,
		func(b []byte) (int, error) {
			copy(b, []byte{1, 2, 3})
			return 3, nil
		})
	require.NoError(t, err)

	_, _, err = n.TransmitFrame(tok, time.Now())
	assert.ErrorIs(t, err, transfer.ErrServiceNoSourceID)

	// The transfer must have been cancelled: a second transmit attempt
	// sees an invalid token.
	_, _, err = n.TransmitFrame(tok, time.Now())
	assert.ErrorIs(t, err, transfer.ErrInvalidToken)
}

// newCanServiceIDForTest mirrors pkg/transport/can's unexported
// constructor via the public wire layout so this package (a consumer)
// can build a raw service-frame CAN ID for tests without reaching into
// transport internals.
func newCanServiceIDForTest(priority transfer.Priority, isRequest bool, service transfer.PortID, destination, source transfer.NodeID) (uint32, error) {
	dst, _ := destination.Get()
	src, _ := source.Get()
	id := uint32(1) << 25 // service, not message
	id |= (uint32(priority) & 0x7) << 26
	if isRequest {
		id |= uint32(1) << 24
	}
	id |= (uint32(service) & 0x1FF) << 14
	id |= (uint32(dst) & 0x7F) << 7
	id |= uint32(src) & 0x7F
	return id, nil
}
