// Package virtual implements a TCP-loopback can.Bus, primarily used for
// integration tests and for exercising the SDO client without real CAN
// hardware. A peer acting as a broker must relay frames between
// connected clients; see the virtualcan project referenced by the
// teacher implementation this is adapted from.
package virtual

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/canopen-go/sdoclient/can"
)

func init() {
	can.RegisterInterface("virtual", NewBus)
	can.RegisterInterface("virtualcan", NewBus)
}

type Bus struct {
	mu         sync.Mutex
	channel    string
	conn       net.Conn
	rxCallback can.FrameListener
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

func NewBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel, stopChan: make(chan struct{})}, nil
}

func serializeFrame(frame can.Frame) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, frame.ID)
	binary.Write(buf, binary.BigEndian, frame.Flags)
	binary.Write(buf, binary.BigEndian, frame.DLC)
	buf.Write(frame.Data[:])
	payload := buf.Bytes()
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	return append(header, payload...)
}

func deserializeFrame(raw []byte) (can.Frame, error) {
	var frame can.Frame
	r := bytes.NewReader(raw)
	if err := binary.Read(r, binary.BigEndian, &frame.ID); err != nil {
		return frame, err
	}
	if err := binary.Read(r, binary.BigEndian, &frame.Flags); err != nil {
		return frame, err
	}
	if err := binary.Read(r, binary.BigEndian, &frame.DLC); err != nil {
		return frame, err
	}
	if _, err := r.Read(frame.Data[:]); err != nil {
		return frame, err
	}
	return frame, nil
}

func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	b.conn = conn
	return nil
}

func (b *Bus) Disconnect() error {
	close(b.stopChan)
	err := b.conn.Close()
	b.wg.Wait()
	return err
}

func (b *Bus) Send(frame can.Frame) error {
	_, err := b.conn.Write(serializeFrame(frame))
	return err
}

func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.mu.Lock()
	b.rxCallback = rxCallback
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		header := make([]byte, 4)
		for {
			if _, err := readFull(b.conn, header); err != nil {
				select {
				case <-b.stopChan:
				default:
					log.Warnf("[VIRTUAL] connection closed: %v", err)
				}
				return
			}
			length := binary.BigEndian.Uint32(header)
			payload := make([]byte, length)
			if _, err := readFull(b.conn, payload); err != nil {
				log.Warnf("[VIRTUAL] read error: %v", err)
				return
			}
			frame, err := deserializeFrame(payload)
			if err != nil {
				log.Warnf("[VIRTUAL] malformed frame: %v", err)
				continue
			}
			b.mu.Lock()
			cb := b.rxCallback
			b.mu.Unlock()
			if cb != nil {
				cb.Handle(frame)
			}
		}
	}()
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
