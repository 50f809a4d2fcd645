package can

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsamfire/gocyphal/pkg/can"
	"github.com/samsamfire/gocyphal/pkg/transfer"
)

func frameWithData(id uint32, data ...byte) can.Frame {
	f := can.Frame{ID: id | can.EffFlag, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

// Scenario 1: single-frame anonymous message.
func TestRxProcessFrame_SingleFrameAnonymousMessage(t *testing.T) {
	codec := New()
	const subject = 0x1234
	id := (uint32(transfer.Nominal) & 0x7 << 26) | (uint32(subject) & 0x1FFF << 8) | (1 << bitAnonymous)
	tail := newTailByte(true, true, true, 0)

	frame, fm, err := codec.RxProcessFrame(frameWithData(id, 0xAA, 0xBB, byte(tail)))
	require.NoError(t, err)
	assert.True(t, fm.Toggle)
	assert.Equal(t, transfer.Message, frame.Metadata.Kind)
	assert.False(t, frame.Metadata.Source.IsSet())
	assert.Equal(t, []byte{0xAA, 0xBB}, frame.Payload)
	assert.True(t, frame.FirstFrame)
	assert.True(t, frame.LastFrame)
}

// Scenario 2: two-frame message, reassembly strips and verifies CRC.
func TestRxProcessFrame_TwoFrameMessage(t *testing.T) {
	codec := New()
	id := newCanMessageID(transfer.Nominal, 0x123, transfer.NewNodeID(10))

	tailA := newTailByte(true, false, true, 5)
	frameA, fmA, err := codec.RxProcessFrame(frameWithData(uint32(id), 1, 2, 3, 4, 5, 6, 7, byte(tailA)))
	require.NoError(t, err)
	assert.True(t, fmA.Toggle)
	assert.True(t, frameA.FirstFrame)
	assert.False(t, frameA.LastFrame)

	var rxMeta RxMetadata
	require.NoError(t, codec.UpdateRxMetadata(&rxMeta, &frameA, fmA))

	tailB := newTailByte(false, true, false, 5)
	// CRC of [1..9] is 0x3B0A; low byte first on the wire.
	frameB, fmB, err := codec.RxProcessFrame(frameWithData(uint32(id), 8, 9, 0x0A, 0x3B, byte(tailB)))
	require.NoError(t, err)
	assert.False(t, fmB.Toggle)
	assert.True(t, frameB.LastFrame)

	require.NoError(t, codec.UpdateRxMetadata(&rxMeta, &frameB, fmB))

	reassembled := append(append([]byte{}, frameA.Payload...), frameB.Payload...)
	final, err := codec.FinalizeRxPayload(&rxMeta, reassembled, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, final)
}

// Scenario 2 variant: a corrupted payload must fail CRC verification.
func TestFinalizeRxPayload_CrcMismatch(t *testing.T) {
	codec := New()
	id := newCanMessageID(transfer.Nominal, 0x123, transfer.NewNodeID(10))

	tailA := newTailByte(true, false, true, 5)
	frameA, fmA, err := codec.RxProcessFrame(frameWithData(uint32(id), 1, 2, 3, 4, 5, 6, 7, byte(tailA)))
	require.NoError(t, err)
	var rxMeta RxMetadata
	require.NoError(t, codec.UpdateRxMetadata(&rxMeta, &frameA, fmA))

	tailB := newTailByte(false, true, false, 5)
	// Corrupt: CRC bytes swapped.
	frameB, fmB, err := codec.RxProcessFrame(frameWithData(uint32(id), 8, 9, 0x3B, 0x0A, byte(tailB)))
	require.NoError(t, err)
	require.NoError(t, codec.UpdateRxMetadata(&rxMeta, &frameB, fmB))

	reassembled := append(append([]byte{}, frameA.Payload...), frameB.Payload...)
	_, err = codec.FinalizeRxPayload(&rxMeta, reassembled, false)
	assert.ErrorIs(t, err, transfer.ErrCrc)
}

// Scenario 3: toggle violation.
func TestUpdateRxMetadata_ToggleViolation(t *testing.T) {
	codec := New()
	id := newCanMessageID(transfer.Nominal, 0x123, transfer.NewNodeID(10))

	tailA := newTailByte(true, false, true, 5)
	frameA, fmA, err := codec.RxProcessFrame(frameWithData(uint32(id), 1, 2, 3, 4, 5, 6, 7, byte(tailA)))
	require.NoError(t, err)
	var rxMeta RxMetadata
	require.NoError(t, codec.UpdateRxMetadata(&rxMeta, &frameA, fmA))

	// Frame B repeats toggle=true instead of alternating to false.
	tailB := newTailByte(false, true, true, 5)
	frameB, fmB, err := codec.RxProcessFrame(frameWithData(uint32(id), 8, 9, 0x0A, 0x3B, byte(tailB)))
	require.NoError(t, err)

	err = codec.UpdateRxMetadata(&rxMeta, &frameB, fmB)
	assert.ErrorIs(t, err, transfer.ErrInvalidFrameOrdering)
}

// Scenario 4: non-last frame underutilizing the MTU.
func TestRxProcessFrame_NonLastUnderUtilization(t *testing.T) {
	codec := New()
	id := newCanMessageID(transfer.Nominal, 0x123, transfer.NewNodeID(10))
	tail := newTailByte(true, false, true, 0)

	_, _, err := codec.RxProcessFrame(frameWithData(uint32(id), 1, 2, 3, 4, byte(tail)))
	assert.ErrorIs(t, err, transfer.ErrNonLastUnderUtilization)
}

func TestRxProcessFrame_EmptyPayload(t *testing.T) {
	codec := New()
	_, _, err := codec.RxProcessFrame(can.Frame{ID: can.EffFlag, DLC: 0})
	assert.ErrorIs(t, err, transfer.ErrFrameEmpty)
}

func TestRxProcessFrame_AnonMultiFrameRejected(t *testing.T) {
	codec := New()
	id := uint32(1) << bitAnonymous
	tail := newTailByte(true, false, true, 0) // not end-of-transfer
	_, _, err := codec.RxProcessFrame(frameWithData(id, 1, 2, 3, 4, 5, 6, 7, byte(tail)))
	assert.ErrorIs(t, err, transfer.ErrAnonNotSingleFrame)
}

func TestRxProcessFrame_ServiceAddressing(t *testing.T) {
	codec := New()
	svcID, err := newCanServiceID(transfer.High, true, 99, transfer.NewNodeID(42), transfer.NewNodeID(17))
	require.NoError(t, err)
	tail := newTailByte(true, true, true, 0)

	frame, _, err := codec.RxProcessFrame(frameWithData(uint32(svcID), 0x01, byte(tail)))
	require.NoError(t, err)
	assert.Equal(t, transfer.Request, frame.Metadata.Kind)
	assert.Equal(t, transfer.PortID(99), frame.Metadata.PortID)
	src, _ := frame.Metadata.Source.Get()
	dst, _ := frame.Metadata.Destination.Get()
	assert.EqualValues(t, 17, src)
	assert.EqualValues(t, 42, dst)
}

func TestProcessTxCRC_SingleFrameNoTrailer(t *testing.T) {
	codec := New()
	buf := make([]byte, 9)
	copy(buf, []byte{1, 2, 3, 4, 5, 6, 7})
	n := codec.ProcessTxCRC(buf, 7)
	assert.Equal(t, 7, n)
}

func TestProcessTxCRC_MultiFrameAppendsLowByteFirst(t *testing.T) {
	codec := New()
	buf := make([]byte, 11)
	copy(buf, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	n := codec.ProcessTxCRC(buf, 9)
	require.Equal(t, 11, n)
	assert.Equal(t, byte(0x0A), buf[9])
	assert.Equal(t, byte(0x3B), buf[10])
}

func TestTransmitFrame_ServiceRequiresSourceAndDestination(t *testing.T) {
	codec := New()
	meta := &transfer.Metadata{
		Kind:        transfer.Request,
		Priority:    transfer.Nominal,
		PortID:      7,
		Destination: transfer.NewNodeID(9),
	}
	txMeta := NewTxMetadata()

	_, _, err := codec.TransmitFrame(meta, &txMeta, []byte{1, 2, 3}, transfer.NoNodeID, time.Now())
	assert.ErrorIs(t, err, transfer.ErrServiceNoSourceID)
}

func TestTransmitFrame_MessageRoundTripsFirstAndLastFlags(t *testing.T) {
	codec := New()
	meta := &transfer.Metadata{Kind: transfer.Message, Priority: transfer.Low, PortID: 42}
	txMeta := NewTxMetadata()

	frame, consumed, err := codec.TransmitFrame(meta, &txMeta, []byte{1, 2, 3}, transfer.NewNodeID(5), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, consumed)
	tail := tailByte(frame.Data[consumed])
	assert.True(t, tail.startOfTransfer())
	assert.True(t, tail.endOfTransfer())
	assert.True(t, tail.toggle())
}
