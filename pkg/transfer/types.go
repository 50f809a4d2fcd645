// Package transfer defines the protocol-level data model shared by
// every transport and manager implementation: priorities, transfer
// kinds, node/port/transfer identifiers, transfer metadata, and the
// transient Frame type a codec hands to the manager.
package transfer

import (
	"strconv"
	"time"
)

// Priority is Cyphal's closed 8-level priority enum, encoded in 3 bits
// on the wire. Lower values sort first.
type Priority uint8

const (
	Exceptional Priority = iota
	Immediate
	Fast
	High
	Nominal
	Low
	Slow
	Optional
)

var priorityNames = [...]string{
	"Exceptional", "Immediate", "Fast", "High", "Nominal", "Low", "Slow", "Optional",
}

func (p Priority) String() string {
	if int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return "Unknown"
}

// Valid reports whether p is one of the 8 defined priority levels.
func (p Priority) Valid() bool {
	return p <= Optional
}

// Kind is one of the three protocol-level transfer types. Messages are
// broadcast; Request and Response are point-to-point.
type Kind uint8

const (
	Message Kind = iota
	Request
	Response
)

func (k Kind) String() string {
	switch k {
	case Message:
		return "Message"
	case Request:
		return "Request"
	case Response:
		return "Response"
	default:
		return "Unknown"
	}
}

// NodeID is a 7-bit node identifier (0..=127) that is also representable
// as "absent" (anonymous, for Message source; "anyone", never valid for
// Request/Response). It is a small comparable value type so it can sit
// directly in a map key alongside the rest of TransferMetadata.
type NodeID struct {
	id    uint8
	valid bool
}

// NoNodeID is the absent/anonymous node identifier.
var NoNodeID = NodeID{}

// NewNodeID constructs a present NodeID. Callers are expected to have
// already range-checked id against the transport's addressing limits
// (0..=127 for CAN); NewNodeID itself does not validate.
func NewNodeID(id uint8) NodeID {
	return NodeID{id: id, valid: true}
}

// Get returns the underlying id and whether it is present.
func (n NodeID) Get() (uint8, bool) {
	return n.id, n.valid
}

// IsSet reports whether n carries an actual node identifier.
func (n NodeID) IsSet() bool {
	return n.valid
}

func (n NodeID) String() string {
	if !n.valid {
		return "anonymous"
	}
	return strconv.Itoa(int(n.id))
}

// PortID is the 16-bit subject/service identifier.
type PortID uint16

// TransferID is the transfer's modular sequence counter. CAN uses only
// its low 5 bits (0..=31); elsewhere it is treated as opaque.
type TransferID uint8

// Metadata is the protocol-level identity of a transfer.
type Metadata struct {
	Timestamp   time.Time
	Priority    Priority
	Kind        Kind
	PortID      PortID
	Source      NodeID // optional: anonymous if IsSet() is false (Message only)
	Destination NodeID // optional: Message never carries one
	TransferID  TransferID
}

// Identity is Metadata with Timestamp excluded: the stable equality and
// hashing key the transfer manager uses for deduplication and lookup.
// It is a plain comparable struct, usable directly as a map key.
type Identity struct {
	Priority    Priority
	Kind        Kind
	PortID      PortID
	Source      NodeID
	Destination NodeID
	TransferID  TransferID
}

// Identity extracts the non-timestamp identity key from m.
func (m Metadata) Identity() Identity {
	return Identity{
		Priority:    m.Priority,
		Kind:        m.Kind,
		PortID:      m.PortID,
		Source:      m.Source,
		Destination: m.Destination,
		TransferID:  m.TransferID,
	}
}

// Frame is one link-layer frame after tail-byte extraction: protocol
// metadata, the user payload (tail byte already stripped), and the
// first/last-frame markers a codec derived from the tail byte.
type Frame struct {
	Metadata   Metadata
	Payload    []byte
	FirstFrame bool
	LastFrame  bool
}
