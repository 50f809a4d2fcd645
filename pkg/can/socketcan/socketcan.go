// Package socketcan wraps github.com/brutella/can to give the engine
// real Linux SocketCAN access. It is the reference link-layer driver:
// a thin adapter, not part of the frame engine itself.
package socketcan

import (
	sockcan "github.com/brutella/can"

	"github.com/samsamfire/gocyphal/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewBus)
}

type Bus struct {
	bus        *sockcan.Bus
	rxCallback can.FrameListener
}

func NewBus(name string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

func (b *Bus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

func (b *Bus) Send(frame can.Frame) error {
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Data:   frame.Data,
	})
}

func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.rxCallback = rxCallback
	// brutella/can defines its own Handle-based subscription; Bus
	// itself satisfies it below.
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's frame listener interface, translating
// its Frame into ours before forwarding.
func (b *Bus) Handle(frame sockcan.Frame) {
	b.rxCallback.Handle(can.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data})
}
