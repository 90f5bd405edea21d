// Command sdoclient issues a single SDO read or write against a
// CANopen node and prints the result.
package main

import (
	"encoding/hex"
	"flag"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/canopen-go/sdoclient/can"
	_ "github.com/canopen-go/sdoclient/can/socketcan"
	_ "github.com/canopen-go/sdoclient/can/virtual"
	"github.com/canopen-go/sdoclient/dict"
	"github.com/canopen-go/sdoclient/sdo"
)

func main() {
	log.SetLevel(log.InfoLevel)

	interfaceType := flag.String("interface", "socketcan", "bus interface type: socketcan or virtual")
	channel := flag.String("channel", "can0", "interface channel, e.g. can0 or a host:port for virtual")
	node := flag.Uint("node", 0x10, "target node id")
	eds := flag.String("eds", "", "optional EDS/DCF file to resolve COB-IDs from")
	index := flag.Uint("index", 0x1018, "object dictionary index")
	subIndex := flag.Uint("sub", 1, "object dictionary sub-index")
	write := flag.String("write", "", "hex bytes to write; if empty, performs a read")
	length := flag.Uint("length", 0, "pre-declared read length, 0 lets the server reveal it")
	flag.Parse()

	bus, err := can.NewBus(*interfaceType, *channel)
	if err != nil {
		log.Fatalf("connecting to %s/%s: %v", *interfaceType, *channel, err)
	}
	if err := bus.Connect(); err != nil {
		log.Fatalf("connecting bus: %v", err)
	}
	defer bus.Disconnect()

	manager := can.NewBusManager(bus)
	if err := bus.Subscribe(manager); err != nil {
		log.Fatalf("subscribing bus manager: %v", err)
	}

	dictionary := dict.NewStaticDictionary(uint8(*node))
	if *eds != "" {
		dictionary, err = dict.ParseEDS(*eds, uint8(*node))
		if err != nil {
			log.Fatalf("parsing EDS %s: %v", *eds, err)
		}
	}

	client, err := sdo.NewClient(manager, dictionary)
	if err != nil {
		log.Fatalf("creating SDO client: %v", err)
	}
	defer client.Close()

	entry := dict.Entry{Index: uint16(*index), SubIndex: uint8(*subIndex)}

	if *write == "" {
		var buf []byte
		if *length > 0 {
			buf = make([]byte, *length)
		}
		data, err := client.Read(entry, buf)
		if err != nil {
			log.Fatalf("read x%x:%x: %v", entry.Index, entry.SubIndex, err)
		}
		log.Infof("read x%x:%x = %s", entry.Index, entry.SubIndex, hex.EncodeToString(data))
		return
	}

	data, err := hex.DecodeString(strings.TrimPrefix(*write, "0x"))
	if err != nil {
		log.Fatalf("parsing -write hex %q: %v", *write, err)
	}
	if err := client.Write(entry, data); err != nil {
		log.Fatalf("write x%x:%x: %v", entry.Index, entry.SubIndex, err)
	}
	log.Infof("wrote x%x:%x", entry.Index, entry.SubIndex)
}
