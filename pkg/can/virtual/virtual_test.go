package virtual

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/samsamfire/gocyphal/pkg/can"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (r *frameRecorder) Handle(frame can.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// TestReceiveOwn exercises the loopback path used by tests that don't
// run an actual broker: with no connection and receiveOwn disabled,
// Send is a no-op error; once enabled, sent frames are handed straight
// back to the subscriber.
func TestReceiveOwn(t *testing.T) {
	bus, err := NewBus(VCANChannel)
	assert.NoError(t, err)
	vbus := bus.(*Bus)

	recorder := &frameRecorder{}
	assert.NoError(t, vbus.Subscribe(recorder))

	frame := can.Frame{ID: 0x111, Flags: 0, DLC: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	_ = vbus.Send(frame)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, recorder.count())

	vbus.SetReceiveOwn(true)
	_ = vbus.Send(frame)
	assert.Equal(t, 1, recorder.count())
}

const VCANChannel = "localhost:18888"
