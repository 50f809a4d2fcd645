// Package can declares the link-layer driver boundary: a CAN bus is a
// black box that hands in Frames and accepts Frames for transmission.
// Everything above this package (pkg/transport/can, pkg/transfer,
// pkg/node) only ever sees Frame and Bus — never a concrete backend.
package can

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// RtrFlag marks a remote transmission request frame.
	RtrFlag uint32 = 0x40000000
	// EffFlag marks a 29-bit extended identifier frame, the only kind
	// Cyphal/CAN uses.
	EffFlag uint32 = unix.CAN_EFF_FLAG
	// EffMask isolates the 29 identifier bits from flag bits.
	EffMask uint32 = unix.CAN_EFF_MASK
)

// Frame is a single link-layer CAN frame: a 29-bit extended identifier
// plus up to 8 payload bytes. This is the wire-level type every
// transport codec in pkg/transport/can parses from and emits into.
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

// Payload returns the frame's data truncated to its DLC.
func (f Frame) Payload() []byte {
	if int(f.DLC) > len(f.Data) {
		return f.Data[:]
	}
	return f.Data[:f.DLC]
}

// FrameListener receives CAN frames off the bus. Handle must not block.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is the driver interface a host must supply. It is intentionally
// thin: connection lifecycle, send, and a single subscription slot.
// Fan-out to multiple interested parties is the dispatcher's job
// (see Dispatcher below), not the bus's.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(callback FrameListener) error
}

type NewInterfaceFunc func(channel string) (Bus, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]NewInterfaceFunc)
)

// RegisterInterface registers a new named bus backend. Backends call
// this from an init() function, as pkg/can/socketcan and
// pkg/can/virtual do.
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[interfaceType] = newInterface
}

// NewBus looks up a registered backend by name and constructs it.
func NewBus(canInterface string, channel string) (Bus, error) {
	registryMu.Lock()
	createInterface, ok := registry[canInterface]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface %q", canInterface)
	}
	return createInterface(channel)
}

// Dispatcher fans a Bus's received frames out to listeners keyed by
// the full 29-bit extended CAN identifier.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[uint32][]FrameListener
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[uint32][]FrameListener)}
}

// Handle implements FrameListener; subscribe a Dispatcher to a Bus and
// register per-ID listeners on the Dispatcher instead of the Bus.
func (d *Dispatcher) Handle(frame Frame) {
	id := frame.ID & EffMask
	d.mu.Lock()
	listeners := append([]FrameListener(nil), d.listeners[id]...)
	d.mu.Unlock()
	for _, l := range listeners {
		l.Handle(frame)
	}
}

// Listen registers a listener for a specific 29-bit identifier.
func (d *Dispatcher) Listen(id uint32, l FrameListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[id&EffMask] = append(d.listeners[id&EffMask], l)
}
