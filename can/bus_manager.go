package can

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Max standard CAN identifier (11-bit).
const MaxCanId = 0x7FF

type subscriber struct {
	id       uint64
	callback FrameListener
}

// BusManager wraps a Bus and demultiplexes every inbound frame to the
// subscribers registered for its CAN-ID. It is itself a FrameListener,
// so it is what gets handed to Bus.Subscribe.
type BusManager struct {
	mu        sync.Mutex
	bus       Bus
	listeners [MaxCanId + 1][]subscriber
	nextSubId uint64
}

func NewBusManager(bus Bus) *BusManager {
	return &BusManager{bus: bus}
}

// Handle implements FrameListener. Called by the underlying Bus on
// every received frame; must not block.
func (bm *BusManager) Handle(frame Frame) {
	id := frame.ID & SffMask
	if id > MaxCanId {
		return
	}
	bm.mu.Lock()
	listeners := bm.listeners[id]
	bm.mu.Unlock()

	for _, sub := range listeners {
		sub.callback.Handle(frame)
	}
}

// Send transmits a frame on the underlying bus.
func (bm *BusManager) Send(frame Frame) error {
	err := bm.bus.Send(frame)
	if err != nil {
		log.Warnf("[BUSMANAGER] error sending frame x%x: %v", frame.ID, err)
	}
	return err
}

// Subscribe registers callback for every frame with the given standard
// CAN identifier. The returned cancel func removes the subscription.
func (bm *BusManager) Subscribe(id uint32, callback FrameListener) (cancel func(), err error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if id > MaxCanId {
		return nil, ErrExtendedIdUnsupported
	}

	bm.nextSubId++
	subId := bm.nextSubId
	bm.listeners[id] = append(bm.listeners[id], subscriber{id: subId, callback: callback})

	cancel = func() {
		bm.mu.Lock()
		defer bm.mu.Unlock()
		subs := bm.listeners[id]
		for i, sub := range subs {
			if sub.id == subId {
				bm.listeners[id] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	return cancel, nil
}
