// Package config provides typed convenience wrappers around the raw
// byte-oriented sdo.Client, mirroring the read/write helper family the
// teacher library builds on top of its own SDO client.
package config

import (
	"encoding/binary"
	"fmt"

	"github.com/canopen-go/sdoclient/dict"
	"github.com/canopen-go/sdoclient/sdo"
)

// ErrSize is returned when a read yields a byte count that does not
// match the requested scalar width.
var ErrSize = fmt.Errorf("config: unexpected value size")

// NodeConfigurator wraps a *sdo.Client with typed scalar and string
// accessors for a single remote node.
type NodeConfigurator struct {
	client *sdo.Client
}

func NewNodeConfigurator(client *sdo.Client) *NodeConfigurator {
	return &NodeConfigurator{client: client}
}

func (nc *NodeConfigurator) entry(index uint16, subIndex uint8) dict.Entry {
	return dict.Entry{Index: index, SubIndex: subIndex}
}

func (nc *NodeConfigurator) ReadUint8(index uint16, subIndex uint8) (uint8, error) {
	buf, err := nc.client.Read(nc.entry(index, subIndex), make([]byte, 1))
	if err != nil {
		return 0, err
	}
	if len(buf) != 1 {
		return 0, ErrSize
	}
	return buf[0], nil
}

func (nc *NodeConfigurator) ReadUint16(index uint16, subIndex uint8) (uint16, error) {
	buf, err := nc.client.Read(nc.entry(index, subIndex), make([]byte, 2))
	if err != nil {
		return 0, err
	}
	if len(buf) != 2 {
		return 0, ErrSize
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (nc *NodeConfigurator) ReadUint32(index uint16, subIndex uint8) (uint32, error) {
	buf, err := nc.client.Read(nc.entry(index, subIndex), make([]byte, 4))
	if err != nil {
		return 0, err
	}
	if len(buf) != 4 {
		return 0, ErrSize
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (nc *NodeConfigurator) ReadUint64(index uint16, subIndex uint8) (uint64, error) {
	buf, err := nc.client.Read(nc.entry(index, subIndex), make([]byte, 8))
	if err != nil {
		return 0, err
	}
	if len(buf) != 8 {
		return 0, ErrSize
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadString reads a variable-length entry with no pre-declared size,
// relying on the server's size-indicated or segmented response.
func (nc *NodeConfigurator) ReadString(index uint16, subIndex uint8) (string, error) {
	buf, err := nc.client.Read(nc.entry(index, subIndex), nil)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func (nc *NodeConfigurator) WriteUint8(index uint16, subIndex uint8, value uint8) error {
	return nc.client.Write(nc.entry(index, subIndex), []byte{value})
}

func (nc *NodeConfigurator) WriteUint16(index uint16, subIndex uint8, value uint16) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, value)
	return nc.client.Write(nc.entry(index, subIndex), buf)
}

func (nc *NodeConfigurator) WriteUint32(index uint16, subIndex uint8, value uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return nc.client.Write(nc.entry(index, subIndex), buf)
}

func (nc *NodeConfigurator) WriteUint64(index uint16, subIndex uint8, value uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return nc.client.Write(nc.entry(index, subIndex), buf)
}

func (nc *NodeConfigurator) WriteString(index uint16, subIndex uint8, value string) error {
	return nc.client.Write(nc.entry(index, subIndex), []byte(value))
}
