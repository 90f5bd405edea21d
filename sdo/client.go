// Package sdo implements a CANopen SDO (Service Data Object) client: a
// confirmed, point-to-point request/response protocol for reading and
// writing entries of a remote node's object dictionary over CAN, with
// expedited and segmented transfer, toggle-bit alternation, and a
// defined abort taxonomy (CiA 301).
package sdo

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/canopen-go/sdoclient/can"
	"github.com/canopen-go/sdoclient/dict"
	"github.com/canopen-go/sdoclient/internal/fifo"
)

// predefinedConnectionSetBase offsets for the client->server and
// server->client COB-IDs when the dictionary has no override cached at
// 0x1200 sub 1/2.
const (
	predefinedTxBase uint32 = 0x600
	predefinedRxBase uint32 = 0x580
)

var cobIdTx = dict.Entry{Index: 0x1200, SubIndex: 1}
var cobIdRx = dict.Entry{Index: 0x1200, SubIndex: 2}

type transferState uint8

const (
	stateIdle transferState = iota
	stateAwaitDownloadInitAck
	stateAwaitDownloadSegAck
	stateAwaitUploadInitResp
	stateAwaitUploadSegResp
)

// Client drives one outstanding SDO transfer at a time against a single
// remote node. It implements can.FrameListener and is meant to be
// registered with a can.BusManager at construction time.
type Client struct {
	bus        *can.BusManager
	dictionary dict.ObjectDictionary
	txId       uint32
	rxId       uint32
	unsubscribe func()

	timeout     time.Duration
	lockTimeout time.Duration

	lock chan struct{} // 1-buffered exclusion semaphore

	mu         sync.Mutex
	state      transferState
	entry      dict.Entry
	buffer     []byte     // upload accumulator / caller-supplied download source
	writeFifo  *fifo.Fifo // whole segmented-download payload; each segment drains up to 7 bytes
	offset     int
	total      int
	totalKnown bool
	toggle     uint8
	lastSent can.Frame
	done     chan struct{}
	finished bool
	err      error
}

// NewClient resolves the tx/rx CAN headers for node (falling back to
// the pre-defined connection set when the dictionary has no override),
// subscribes to the rx header on bus, and returns a ready client.
func NewClient(bus *can.BusManager, dictionary dict.ObjectDictionary, opts ...Option) (*Client, error) {
	node := dictionary.NodeID()

	txId := predefinedTxBase + uint32(node)
	if v, ok := dictionary.GetCached(cobIdTx); ok {
		txId = v & can.SffMask
	}
	rxId := predefinedRxBase + uint32(node)
	if v, ok := dictionary.GetCached(cobIdRx); ok {
		rxId = v & can.SffMask
	}

	c := &Client{
		bus:         bus,
		dictionary:  dictionary,
		txId:        txId,
		rxId:        rxId,
		timeout:     defaultTimeout,
		lockTimeout: defaultLockTimeout,
		lock:        make(chan struct{}, 1),
	}
	c.lock <- struct{}{}
	for _, opt := range opts {
		opt(c)
	}

	cancel, err := bus.Subscribe(rxId, c)
	if err != nil {
		return nil, fmt.Errorf("sdo: subscribing to server id x%x: %w", rxId, err)
	}
	c.unsubscribe = cancel
	return c, nil
}

// Close unregisters the client from the bus. A transfer in flight is
// abandoned; it will eventually fail with Timeout.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

func (c *Client) acquire(timeout time.Duration) bool {
	select {
	case <-c.lock:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *Client) release() {
	c.lock <- struct{}{}
}

// Read performs an SDO upload: it fetches entry from the remote node.
// If buf is non-empty its length pre-declares the expected total size;
// otherwise the size is discovered from the server's response. Returns
// the assembled bytes on success.
func (c *Client) Read(entry dict.Entry, buf []byte) ([]byte, error) {
	if !c.acquire(c.lockTimeout) {
		return nil, ErrBusy
	}
	defer c.release()

	done := c.beginTransfer(entry, buf, stateAwaitUploadInitResp)

	frame := newRequestFrame(csUploadOrDownloadInit<<5, entry)
	frame.ID = c.txId

	c.mu.Lock()
	c.lastSent = frame
	c.mu.Unlock()

	c.bus.Send(frame)
	return c.awaitCompletion(done, entry)
}

// Write performs an SDO download: it pushes data to entry on the
// remote node, using the expedited form for 1 <= len(data) <= 4 and the
// segmented form otherwise. Empty data is sent as a size-indicated
// initiate declaring size 0, with no segments following.
func (c *Client) Write(entry dict.Entry, data []byte) error {
	if !c.acquire(c.lockTimeout) {
		return ErrBusy
	}
	defer c.release()

	done := c.beginTransfer(entry, data, stateAwaitDownloadInitAck)

	var frame can.Frame
	c.mu.Lock()
	if len(data) >= 1 && len(data) <= 4 {
		var payload [4]byte
		copy(payload[:], data)
		frame = encodeInitiateLong(csDownloadInitRequest, initiateLong{
			Entry:         entry,
			Expedited:     true,
			SizeIndicated: true,
			Num:           uint8(4 - len(data)),
			Payload:       payload,
		})
		c.offset = c.total // nothing left to stream, transition 1 signals on the ack
	} else {
		frame = encodeInitiateLong(csDownloadInitRequest, initiateLong{
			Entry:         entry,
			Expedited:     false,
			SizeIndicated: true,
			Size:          uint32(len(data)),
		})
		if len(data) > 0 {
			c.writeFifo = fifo.NewFifo(len(data))
			c.writeFifo.Write(data)
		}
	}
	frame.ID = c.txId
	c.lastSent = frame
	c.mu.Unlock()

	c.bus.Send(frame)
	_, err := c.awaitCompletion(done, entry)
	return err
}

// beginTransfer resets the shared transfer state for a new operation
// and returns the completion channel the caller should wait on.
func (c *Client) beginTransfer(entry dict.Entry, buf []byte, state transferState) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
	c.entry = entry
	c.buffer = buf
	c.offset = 0
	c.total = len(buf)
	c.totalKnown = len(buf) > 0 || state == stateAwaitDownloadInitAck
	c.toggle = 0
	c.finished = false
	c.err = nil
	c.done = make(chan struct{})
	return c.done
}

// awaitCompletion blocks until the listener signals done or the
// rendezvous timeout elapses, per spec §4.4.
func (c *Client) awaitCompletion(done chan struct{}, entry dict.Entry) ([]byte, error) {
	select {
	case <-done:
		c.mu.Lock()
		buf, err := c.buffer, c.err
		c.mu.Unlock()
		return buf, err
	case <-time.After(c.timeout):
		c.localAbort(entry, AbortTimeout)
		return nil, ErrTimeout
	}
}

// Handle implements can.FrameListener. Invoked by the BusManager for
// every frame received on the client's rx header; must not block.
func (c *Client) Handle(frame can.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateIdle {
		return // no transfer in flight: spurious or stale frame, ignore
	}

	if isAbortFrame(frame) {
		_, code, err := decodeAbort(frame)
		if err != nil {
			return
		}
		log.Warnf("[SDO] remote abort on x%x:%x: %s", c.entry.Index, c.entry.SubIndex, code)
		c.finishLocked(&AbortError{Code: code, Remote: true})
		return
	}

	switch c.state {
	case stateAwaitDownloadInitAck:
		c.handleDownloadInitAck(frame)
	case stateAwaitDownloadSegAck:
		c.handleDownloadSegAck(frame)
	case stateAwaitUploadInitResp:
		c.handleUploadInitResp(frame)
	case stateAwaitUploadSegResp:
		c.handleUploadSegResp(frame)
	}
}

// --- transition 1: download initiate acknowledged ---

func (c *Client) handleDownloadInitAck(frame can.Frame) {
	entry, err := decodeDownloadInitiateResponse(frame)
	if err != nil || entry != c.entry {
		c.protocolErrorLocked()
		return
	}
	if c.offset >= c.total {
		c.finishLocked(nil)
		return
	}
	c.state = stateAwaitDownloadSegAck
	c.sendDownloadSegmentLocked()
}

// --- transition 2: download segment acknowledged ---

func (c *Client) handleDownloadSegAck(frame can.Frame) {
	toggle, err := decodeDownloadSegmentResponse(frame)
	if err != nil {
		c.protocolErrorLocked()
		return
	}
	if toggle != c.toggle {
		c.localAbortLocked(AbortToggleBit)
		return
	}
	if c.offset >= c.total {
		c.finishLocked(nil)
		return
	}
	c.toggle ^= 1
	c.sendDownloadSegmentLocked()
}

func (c *Client) sendDownloadSegmentLocked() {
	remaining := c.total - c.offset
	n := remaining
	if n > 7 {
		n = 7
	}
	chunk := make([]byte, n)
	c.writeFifo.Read(chunk)
	done := remaining <= 7

	frame := encodeSegmentFrame(segmentFrame{Toggle: c.toggle, Done: done, Payload: chunk})
	frame.ID = c.txId
	c.lastSent = frame
	c.offset += n
	c.bus.Send(frame)
}

// --- transition 3: upload initiate responded ---

func (c *Client) handleUploadInitResp(frame can.Frame) {
	e, err := decodeInitiateLong(csUploadOrDownloadInit, frame)
	if err != nil || e.Entry != c.entry {
		c.protocolErrorLocked()
		return
	}

	if e.Expedited {
		used := 4 - int(e.Num)
		if used < 0 || used > 4 {
			c.protocolErrorLocked()
			return
		}
		data := e.Payload[:used]
		if c.totalKnown && c.total != used {
			c.localAbortLocked(AbortTypeMismatch)
			return
		}
		c.buffer = append([]byte(nil), data...)
		c.total = used
		c.totalKnown = true
		c.offset = used
		c.finishLocked(nil)
		return
	}

	if e.SizeIndicated {
		if c.totalKnown && uint32(c.total) != e.Size {
			c.localAbortLocked(AbortTypeMismatch)
			return
		}
		c.total = int(e.Size)
		c.totalKnown = true
		c.buffer = make([]byte, c.total)
	} else if !c.totalKnown {
		c.buffer = c.buffer[:0]
	}

	c.toggle = 0
	c.state = stateAwaitUploadSegResp
	c.sendUploadSegmentRequestLocked()
}

// --- transition 4: upload segment responded ---

func (c *Client) handleUploadSegResp(frame can.Frame) {
	seg, err := decodeSegmentFrame(frame)
	if err != nil {
		c.protocolErrorLocked()
		return
	}
	if seg.Toggle != c.toggle {
		c.localAbortLocked(AbortToggleBit)
		return
	}

	if c.totalKnown {
		if c.offset+len(seg.Payload) > c.total {
			c.localAbortLocked(AbortTypeMismatch)
			return
		}
		copy(c.buffer[c.offset:], seg.Payload)
	} else {
		c.buffer = append(c.buffer, seg.Payload...)
	}
	c.offset += len(seg.Payload)

	if seg.Done || (c.totalKnown && c.offset == c.total) {
		c.finishLocked(nil)
		return
	}
	c.toggle ^= 1
	c.sendUploadSegmentRequestLocked()
}

func (c *Client) sendUploadSegmentRequestLocked() {
	frame := encodeUploadSegmentRequest(c.toggle)
	frame.ID = c.txId
	c.lastSent = frame
	c.bus.Send(frame)
}

// --- shared error paths ---

// protocolErrorLocked handles any response that fails basic validation
// (wrong command, mismatched index/sub-index, malformed frame): spec
// §4.3's "validation on every response" rule.
func (c *Client) protocolErrorLocked() {
	c.localAbortLocked(AbortGeneral)
}

func (c *Client) localAbortLocked(code AbortCode) {
	frame := encodeAbort(c.entry, code)
	frame.ID = c.txId
	c.lastSent = frame
	c.bus.Send(frame)
	log.Warnf("[SDO] local abort on x%x:%x: %s", c.entry.Index, c.entry.SubIndex, code)
	c.finishLocked(&AbortError{Code: code, Remote: false})
}

// localAbort is the unlocked entry point used outside Handle (the
// rendezvous timeout path).
func (c *Client) localAbort(entry dict.Entry, code AbortCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateIdle {
		return
	}
	c.localAbortLocked(code)
}

// finishLocked ends the in-flight transfer exactly once and wakes the
// waiting caller (spec §8 invariant 5: at most one abort, exactly one
// wake per transfer).
func (c *Client) finishLocked(err error) {
	if c.finished {
		return
	}
	c.finished = true
	c.err = err
	c.state = stateIdle
	close(c.done)
}
