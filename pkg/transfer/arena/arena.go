// Package arena implements transfer.Store over fixed-capacity,
// pre-allocated slot tables: the bare-metal variant with no dynamic
// memory use after construction. All storage is allocated once in New;
// no operation afterwards grows a slice or map.
//
// Both transfer tables use open addressing with linear probing, keyed
// by a 64-bit hash of transfer.Identity (collisions are broken by full
// equality) instead of a Go map.
package arena

import (
	"hash/fnv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/gocyphal/pkg/transfer"
)

type state uint8

const (
	empty state = iota
	active
	timedOut
	// deleted tombstones a slot that once held a transfer. findRx/findTx
	// must keep probing past it instead of stopping, or a freed slot
	// partway down a collision chain would hide every entry behind it.
	// freeRxSlot/freeTxSlot may reuse a deleted slot same as an empty one.
	deleted
)

type rxSlot[RxMeta any] struct {
	state       state
	key         transfer.Identity
	metadata    transfer.Metadata
	rxMeta      RxMeta
	payload     []byte // len tracks used bytes; cap is fixed at construction
	timedOutGen uint64
}

type txSlot[TxMeta any] struct {
	state       state
	key         transfer.Identity
	metadata    transfer.Metadata
	txMeta      TxMeta
	payload     []byte
	consumed    int
	timedOutGen uint64
}

// Manager is a fixed-capacity transfer.Store. rxCapacity/txCapacity
// bound the number of simultaneous in-flight transfers of each
// direction; payloadCapacity bounds the largest single transfer
// payload (post-CRC/padding) either direction can hold.
type Manager[F any, FM any, RxMeta any, TxMeta any] struct {
	codec  transfer.Codec[F, FM, RxMeta, TxMeta]
	logger logrus.FieldLogger

	rx []rxSlot[RxMeta]
	tx []txSlot[TxMeta]

	payloadCapacity int
	generation      uint64
}

// New constructs a Manager with the given slot counts and per-transfer
// payload capacity. All backing storage (slot tables and per-slot
// payload buffers) is allocated here, once.
func New[F any, FM any, RxMeta any, TxMeta any](
	codec transfer.Codec[F, FM, RxMeta, TxMeta],
	logger logrus.FieldLogger,
	rxCapacity, txCapacity, payloadCapacity int,
) *Manager[F, FM, RxMeta, TxMeta] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager[F, FM, RxMeta, TxMeta]{
		codec:           codec,
		logger:          logger,
		rx:              make([]rxSlot[RxMeta], rxCapacity),
		tx:              make([]txSlot[TxMeta], txCapacity),
		payloadCapacity: payloadCapacity,
	}
	for i := range m.rx {
		m.rx[i].payload = make([]byte, 0, payloadCapacity)
	}
	for i := range m.tx {
		m.tx[i].payload = make([]byte, payloadCapacity)
	}
	return m
}

func hashIdentity(key transfer.Identity) uint64 {
	h := fnv.New64a()
	src, _ := key.Source.Get()
	dst, _ := key.Destination.Get()
	b := [8]byte{
		byte(key.Priority), byte(key.Kind),
		byte(key.PortID), byte(key.PortID >> 8),
		src, dst,
		byte(key.TransferID), 0,
	}
	_, _ = h.Write(b[:])
	return h.Sum64()
}

// findRx returns the slot index matching key (active or timed out), or
// -1 if not present.
func (m *Manager[F, FM, RxMeta, TxMeta]) findRx(key transfer.Identity) int {
	if len(m.rx) == 0 {
		return -1
	}
	start := int(hashIdentity(key) % uint64(len(m.rx)))
	for i := 0; i < len(m.rx); i++ {
		idx := (start + i) % len(m.rx)
		switch m.rx[idx].state {
		case empty:
			return -1
		case deleted:
			continue
		case active, timedOut:
			if m.rx[idx].key == key {
				return idx
			}
		}
	}
	return -1
}

// freeRxSlot returns the first empty or tombstoned slot for key, or -1
// if full.
func (m *Manager[F, FM, RxMeta, TxMeta]) freeRxSlot(key transfer.Identity) int {
	if len(m.rx) == 0 {
		return -1
	}
	start := int(hashIdentity(key) % uint64(len(m.rx)))
	for i := 0; i < len(m.rx); i++ {
		idx := (start + i) % len(m.rx)
		if m.rx[idx].state == empty || m.rx[idx].state == deleted {
			return idx
		}
	}
	return -1
}

func (m *Manager[F, FM, RxMeta, TxMeta]) findTx(key transfer.Identity) int {
	if len(m.tx) == 0 {
		return -1
	}
	start := int(hashIdentity(key) % uint64(len(m.tx)))
	for i := 0; i < len(m.tx); i++ {
		idx := (start + i) % len(m.tx)
		switch m.tx[idx].state {
		case empty:
			return -1
		case deleted:
			continue
		case active, timedOut:
			if m.tx[idx].key == key {
				return idx
			}
		}
	}
	return -1
}

func (m *Manager[F, FM, RxMeta, TxMeta]) freeTxSlot(key transfer.Identity) int {
	if len(m.tx) == 0 {
		return -1
	}
	start := int(hashIdentity(key) % uint64(len(m.tx)))
	for i := 0; i < len(m.tx); i++ {
		idx := (start + i) % len(m.tx)
		if m.tx[idx].state == empty || m.tx[idx].state == deleted {
			return idx
		}
	}
	return -1
}

func asRxError(err error) transfer.RxError {
	if rxErr, ok := err.(transfer.RxError); ok {
		return rxErr
	}
	return transfer.ErrInvalidPayload
}

func (m *Manager[F, FM, RxMeta, TxMeta]) AppendFrame(frame *transfer.Frame, fm FM) (*transfer.RxToken, error) {
	key := frame.Metadata.Identity()
	idx := m.findRx(key)
	if idx < 0 {
		return nil, transfer.UpdateTransferError{Kind: transfer.UpdateErrDoesNotExist}
	}
	slot := &m.rx[idx]
	if slot.state == timedOut {
		return nil, transfer.UpdateTransferError{Kind: transfer.UpdateErrTimedOut}
	}
	if err := m.codec.UpdateRxMetadata(&slot.rxMeta, frame, fm); err != nil {
		return nil, transfer.UpdateTransferError{Kind: transfer.UpdateErrRx, Rx: asRxError(err)}
	}
	if len(slot.payload)+len(frame.Payload) > cap(slot.payload) {
		m.logger.Warn("arena: rx transfer exceeds payload capacity, dropping")
		slot.state = deleted
		return nil, transfer.UpdateTransferError{Kind: transfer.UpdateErrNoSpace}
	}
	slot.payload = append(slot.payload, frame.Payload...)
	slot.metadata.Timestamp = frame.Metadata.Timestamp
	if frame.LastFrame {
		final, err := m.codec.FinalizeRxPayload(&slot.rxMeta, slot.payload, false)
		if err != nil {
			slot.state = deleted
			return nil, transfer.UpdateTransferError{Kind: transfer.UpdateErrRx, Rx: asRxError(err)}
		}
		slot.payload = final
		return &transfer.RxToken{Key: key}, nil
	}
	return nil, nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) NewTransfer(frame *transfer.Frame, fm FM) (*transfer.RxToken, error) {
	key := frame.Metadata.Identity()
	if m.findRx(key) >= 0 {
		return nil, transfer.ErrAlreadyExists
	}
	idx := m.freeRxSlot(key)
	if idx < 0 {
		return nil, transfer.ErrNoSpace
	}
	if len(frame.Payload) > m.payloadCapacity {
		return nil, transfer.ErrNoSpace
	}
	slot := &m.rx[idx]
	*slot = rxSlot[RxMeta]{state: active, key: key, metadata: frame.Metadata, payload: slot.payload[:0]}
	if err := m.codec.UpdateRxMetadata(&slot.rxMeta, frame, fm); err != nil {
		slot.state = deleted
		return nil, asRxError(err)
	}
	slot.payload = append(slot.payload, frame.Payload...)
	if frame.LastFrame {
		final, err := m.codec.FinalizeRxPayload(&slot.rxMeta, slot.payload, true)
		if err != nil {
			slot.state = deleted
			return nil, asRxError(err)
		}
		slot.payload = final
		return &transfer.RxToken{Key: key}, nil
	}
	return nil, nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) WithRxTransfer(token transfer.RxToken, cb func(*transfer.Metadata, []byte)) error {
	idx := m.findRx(token.Key)
	if idx < 0 {
		return transfer.ErrInvalidToken
	}
	slot := &m.rx[idx]
	wasTimedOut := slot.state == timedOut
	slot.state = deleted
	if wasTimedOut {
		return transfer.ErrTransferTimeout
	}
	cb(&slot.metadata, slot.payload)
	return nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) CancelRxTransfer(token transfer.RxToken) error {
	idx := m.findRx(token.Key)
	if idx < 0 {
		return transfer.ErrInvalidToken
	}
	m.rx[idx].state = deleted
	return nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) CreateTransmission(requestedSize int, meta *transfer.Metadata, fill func([]byte) (int, error)) (transfer.TxToken, error) {
	key := meta.Identity()
	if m.findTx(key) >= 0 {
		return transfer.TxToken{}, &transfer.InternalOrUserError{Internal: transfer.ErrAlreadyExists}
	}
	padded := m.codec.GetCRCPaddedSize(requestedSize)
	if padded > m.payloadCapacity {
		return transfer.TxToken{}, &transfer.InternalOrUserError{Internal: transfer.ErrNoSpace}
	}
	idx := m.freeTxSlot(key)
	if idx < 0 {
		return transfer.TxToken{}, &transfer.InternalOrUserError{Internal: transfer.ErrNoSpace}
	}
	slot := &m.tx[idx]
	for i := range slot.payload {
		slot.payload[i] = 0
	}
	consumed, err := fill(slot.payload[:requestedSize])
	if err != nil {
		return transfer.TxToken{}, &transfer.InternalOrUserError{User: err}
	}
	if consumed > requestedSize {
		consumed = requestedSize
	}
	finalLen := m.codec.ProcessTxCRC(slot.payload, consumed)
	*slot = txSlot[TxMeta]{state: active, key: key, metadata: *meta, payload: slot.payload[:finalLen]}
	return transfer.TxToken{Key: key}, nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) Transmit(token transfer.TxToken, cb func(*transfer.Metadata, *TxMeta, []byte) int) (*transfer.TxToken, error) {
	idx := m.findTx(token.Key)
	if idx < 0 {
		return nil, transfer.ErrInvalidToken
	}
	slot := &m.tx[idx]
	if slot.state == timedOut {
		slot.state = deleted
		return nil, transfer.ErrTransferTimeout
	}
	consumed := cb(&slot.metadata, &slot.txMeta, slot.payload[slot.consumed:])
	slot.consumed += consumed
	if slot.consumed >= len(slot.payload) {
		slot.state = deleted
		return nil, nil
	}
	return &token, nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) CancelTxTransfer(token transfer.TxToken) error {
	idx := m.findTx(token.Key)
	if idx < 0 {
		return transfer.ErrInvalidToken
	}
	m.tx[idx].state = deleted
	return nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) UpdateTransfers(now time.Time, timeout time.Duration) {
	m.generation++
	gen := m.generation
	deadline := now.Add(-timeout)

	for i := range m.rx {
		slot := &m.rx[i]
		switch slot.state {
		case active:
			if slot.metadata.Timestamp.Before(deadline) {
				slot.state = timedOut
				slot.timedOutGen = gen
			}
		case timedOut:
			if gen > slot.timedOutGen {
				slot.state = deleted
			}
		}
	}
	for i := range m.tx {
		slot := &m.tx[i]
		switch slot.state {
		case active:
			if slot.metadata.Timestamp.Before(deadline) {
				slot.state = timedOut
				slot.timedOutGen = gen
			}
		case timedOut:
			if gen > slot.timedOutGen {
				slot.state = deleted
			}
		}
	}
}

var _ transfer.Store[struct{}, struct{}, struct{}, struct{}] = (*Manager[struct{}, struct{}, struct{}, struct{}])(nil)
