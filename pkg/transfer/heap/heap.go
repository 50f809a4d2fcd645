// Package heap implements transfer.Store backed by Go maps — the
// convenience storage strategy for hosted targets and tests. See
// package arena for the fixed-capacity, allocation-free alternative
// bare-metal targets need.
package heap

import (
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/gocyphal/pkg/transfer"
)

type state uint8

const (
	active state = iota
	timedOut
)

type rxEntry[RxMeta any] struct {
	metadata    transfer.Metadata
	rxMeta      RxMeta
	payload     []byte
	state       state
	timedOutGen uint64
}

type txEntry[TxMeta any] struct {
	metadata    transfer.Metadata
	txMeta      TxMeta
	payload     []byte
	consumed    int
	state       state
	timedOutGen uint64
}

// Manager is a transfer.Store backed by two Go maps, keyed by
// transfer.Identity instead of token: the token can only be constructed
// once the final frame of a transfer has arrived.
type Manager[F any, FM any, RxMeta any, TxMeta any] struct {
	codec  transfer.Codec[F, FM, RxMeta, TxMeta]
	logger logrus.FieldLogger

	rx map[transfer.Identity]*rxEntry[RxMeta]
	tx map[transfer.Identity]*txEntry[TxMeta]

	generation uint64
}

// New constructs a heap-backed Manager for the given codec. logger may
// be nil, in which case a silent logger is used.
func New[F any, FM any, RxMeta any, TxMeta any](codec transfer.Codec[F, FM, RxMeta, TxMeta], logger logrus.FieldLogger) *Manager[F, FM, RxMeta, TxMeta] {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Manager[F, FM, RxMeta, TxMeta]{
		codec:  codec,
		logger: logger,
		rx:     make(map[transfer.Identity]*rxEntry[RxMeta]),
		tx:     make(map[transfer.Identity]*txEntry[TxMeta]),
	}
}

func (m *Manager[F, FM, RxMeta, TxMeta]) AppendFrame(frame *transfer.Frame, fm FM) (*transfer.RxToken, error) {
	key := frame.Metadata.Identity()
	entry, ok := m.rx[key]
	if !ok {
		return nil, transfer.UpdateTransferError{Kind: transfer.UpdateErrDoesNotExist}
	}
	if entry.state == timedOut {
		return nil, transfer.UpdateTransferError{Kind: transfer.UpdateErrTimedOut}
	}
	if err := m.codec.UpdateRxMetadata(&entry.rxMeta, frame, fm); err != nil {
		var rxErr transfer.RxError
		if !errors.As(err, &rxErr) {
			rxErr = transfer.ErrInvalidPayload
		}
		return nil, transfer.UpdateTransferError{Kind: transfer.UpdateErrRx, Rx: rxErr}
	}
	entry.payload = append(entry.payload, frame.Payload...)
	entry.metadata.Timestamp = frame.Metadata.Timestamp
	if frame.LastFrame {
		final, err := m.codec.FinalizeRxPayload(&entry.rxMeta, entry.payload, false)
		if err != nil {
			var rxErr transfer.RxError
			if !errors.As(err, &rxErr) {
				rxErr = transfer.ErrInvalidPayload
			}
			delete(m.rx, key)
			return nil, transfer.UpdateTransferError{Kind: transfer.UpdateErrRx, Rx: rxErr}
		}
		entry.payload = final
		return &transfer.RxToken{Key: key}, nil
	}
	return nil, nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) NewTransfer(frame *transfer.Frame, fm FM) (*transfer.RxToken, error) {
	key := frame.Metadata.Identity()
	if _, ok := m.rx[key]; ok {
		return nil, transfer.ErrAlreadyExists
	}
	entry := &rxEntry[RxMeta]{metadata: frame.Metadata}
	if err := m.codec.UpdateRxMetadata(&entry.rxMeta, frame, fm); err != nil {
		var rxErr transfer.RxError
		if !errors.As(err, &rxErr) {
			rxErr = transfer.ErrInvalidPayload
		}
		return nil, rxErr
	}
	entry.payload = append(entry.payload, frame.Payload...)
	if frame.LastFrame {
		final, err := m.codec.FinalizeRxPayload(&entry.rxMeta, entry.payload, true)
		if err != nil {
			var rxErr transfer.RxError
			if !errors.As(err, &rxErr) {
				rxErr = transfer.ErrInvalidPayload
			}
			return nil, rxErr
		}
		entry.payload = final
	}
	m.rx[key] = entry
	if frame.LastFrame {
		return &transfer.RxToken{Key: key}, nil
	}
	return nil, nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) WithRxTransfer(token transfer.RxToken, cb func(*transfer.Metadata, []byte)) error {
	entry, ok := m.rx[token.Key]
	if !ok {
		return transfer.ErrInvalidToken
	}
	delete(m.rx, token.Key)
	if entry.state == timedOut {
		return transfer.ErrTransferTimeout
	}
	cb(&entry.metadata, entry.payload)
	return nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) CancelRxTransfer(token transfer.RxToken) error {
	if _, ok := m.rx[token.Key]; !ok {
		return transfer.ErrInvalidToken
	}
	delete(m.rx, token.Key)
	return nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) CreateTransmission(requestedSize int, meta *transfer.Metadata, fill func([]byte) (int, error)) (transfer.TxToken, error) {
	key := meta.Identity()
	if _, ok := m.tx[key]; ok {
		return transfer.TxToken{}, &transfer.InternalOrUserError{Internal: transfer.ErrAlreadyExists}
	}
	buffer := make([]byte, m.codec.GetCRCPaddedSize(requestedSize))
	consumed, err := fill(buffer[:requestedSize])
	if err != nil {
		return transfer.TxToken{}, &transfer.InternalOrUserError{User: err}
	}
	if consumed > requestedSize {
		consumed = requestedSize
	}
	finalLen := m.codec.ProcessTxCRC(buffer, consumed)
	buffer = buffer[:finalLen]
	m.tx[key] = &txEntry[TxMeta]{
		metadata: *meta,
		payload:  buffer,
	}
	return transfer.TxToken{Key: key}, nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) Transmit(token transfer.TxToken, cb func(*transfer.Metadata, *TxMeta, []byte) int) (*transfer.TxToken, error) {
	entry, ok := m.tx[token.Key]
	if !ok {
		return nil, transfer.ErrInvalidToken
	}
	if entry.state == timedOut {
		delete(m.tx, token.Key)
		return nil, transfer.ErrTransferTimeout
	}
	consumed := cb(&entry.metadata, &entry.txMeta, entry.payload[entry.consumed:])
	entry.consumed += consumed
	if entry.consumed >= len(entry.payload) {
		delete(m.tx, token.Key)
		return nil, nil
	}
	return &token, nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) CancelTxTransfer(token transfer.TxToken) error {
	if _, ok := m.tx[token.Key]; !ok {
		return transfer.ErrInvalidToken
	}
	delete(m.tx, token.Key)
	return nil
}

func (m *Manager[F, FM, RxMeta, TxMeta]) UpdateTransfers(now time.Time, timeout time.Duration) {
	m.generation++
	gen := m.generation
	deadline := now.Add(-timeout)

	for key, entry := range m.rx {
		switch entry.state {
		case active:
			if entry.metadata.Timestamp.Before(deadline) {
				entry.state = timedOut
				entry.timedOutGen = gen
				m.logger.WithField("port_id", entry.metadata.PortID).Debug("rx transfer timed out")
			}
		case timedOut:
			if gen > entry.timedOutGen {
				delete(m.rx, key)
			}
		}
	}
	for key, entry := range m.tx {
		switch entry.state {
		case active:
			if entry.metadata.Timestamp.Before(deadline) {
				entry.state = timedOut
				entry.timedOutGen = gen
				m.logger.WithField("port_id", entry.metadata.PortID).Debug("tx transfer timed out")
			}
		case timedOut:
			if gen > entry.timedOutGen {
				delete(m.tx, key)
			}
		}
	}
}

var _ transfer.Store[struct{}, struct{}, struct{}, struct{}] = (*Manager[struct{}, struct{}, struct{}, struct{}])(nil)
