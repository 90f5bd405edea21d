package sdo

import (
	"encoding/binary"
	"errors"

	"github.com/canopen-go/sdoclient/can"
	"github.com/canopen-go/sdoclient/dict"
)

// Command specifiers: top 3 bits of byte 0.
const (
	csUploadSegmentResponse  = 0 // also download segment request
	csDownloadSegmentRequest = 0
	csDownloadInitRequest    = 1 // ccs=1, shared value with the segment response below
	csDownloadSegmentResp    = 1 // echoes toggle only
	csUploadOrDownloadInit   = 2 // upload initiate request/response
	csDownloadInitResponse   = 3 // also upload segment request
	csUploadSegmentRequest   = 3
	csAbort                  = 4
)

// errUnexpectedCommand signals that a received frame's command specifier
// does not match what the caller's decode function expects. The state
// machine turns this into AbortGeneral.
var errUnexpectedCommand = errors.New("sdo: unexpected command specifier")

func commandSpecifier(b0 byte) uint8 { return b0 >> 5 }

func frameIndex(f can.Frame) uint16     { return binary.LittleEndian.Uint16(f.Data[1:3]) }
func frameSubIndex(f can.Frame) uint8   { return f.Data[3] }
func matchesEntry(f can.Frame, e dict.Entry) bool {
	return frameIndex(f) == e.Index && frameSubIndex(f) == e.SubIndex
}

// newRequestFrame builds a frame with ID left at zero; callers set the
// destination CAN-ID (the client's resolved tx header) before sending.
func newRequestFrame(b0 byte, entry dict.Entry) can.Frame {
	f := can.NewFrame(0, 0, 8)
	f.Data[0] = b0
	binary.LittleEndian.PutUint16(f.Data[1:3], entry.Index)
	f.Data[3] = entry.SubIndex
	return f
}

// --- Download Initiate Request (ccs=1) / Upload Initiate Response (scs=2) ---
//
// Both frames share the same bit layout: byte0 = cs<<5 | num<<2 | e<<1 | s.
// Non-expedited, size-indicated transfers carry the 16-bit size split
// across payload bytes 0 and 3 (bytes 4 and 7 of the frame), per the
// behavior of the system this protocol was ported from; bytes 1-2 of the
// payload are reserved and always zero. See DESIGN.md Open Question 1/2.

type initiateLong struct {
	Entry         dict.Entry
	Expedited     bool
	SizeIndicated bool
	Num           uint8  // unused bytes in Payload, only meaningful when Expedited
	Size          uint32 // declared total size, only meaningful when !Expedited && SizeIndicated
	Payload       [4]byte
}

func encodeInitiateLong(cs uint8, e initiateLong) can.Frame {
	f := newRequestFrame(cs<<5, e.Entry)
	if e.SizeIndicated {
		f.Data[0] |= 0x01
	}
	if e.Expedited {
		f.Data[0] |= 0x02
		f.Data[0] |= e.Num << 2
		copy(f.Data[4:], e.Payload[:])
	} else if e.SizeIndicated {
		f.Data[4] = byte(e.Size & 0xFF)
		f.Data[7] = byte((e.Size >> 8) & 0xFF)
	}
	return f
}

func decodeInitiateLong(cs uint8, f can.Frame) (initiateLong, error) {
	if f.DLC != 8 {
		return initiateLong{}, ErrMalformed
	}
	if commandSpecifier(f.Data[0]) != cs {
		return initiateLong{}, errUnexpectedCommand
	}
	e := initiateLong{
		Entry:         dict.Entry{Index: frameIndex(f), SubIndex: frameSubIndex(f)},
		SizeIndicated: f.Data[0]&0x01 != 0,
		Expedited:     f.Data[0]&0x02 != 0,
	}
	if e.Expedited {
		e.Num = (f.Data[0] >> 2) & 0x03
		copy(e.Payload[:], f.Data[4:8])
	} else if e.SizeIndicated {
		e.Size = uint32(f.Data[4]) | uint32(f.Data[7])<<8
	}
	return e, nil
}

// --- Download Initiate Response (scs=3) ---

func encodeDownloadInitiateResponse(entry dict.Entry) can.Frame {
	return newRequestFrame(csDownloadInitResponse<<5, entry)
}

func decodeDownloadInitiateResponse(f can.Frame) (dict.Entry, error) {
	if f.DLC != 8 {
		return dict.Entry{}, ErrMalformed
	}
	if commandSpecifier(f.Data[0]) != csDownloadInitResponse {
		return dict.Entry{}, errUnexpectedCommand
	}
	return dict.Entry{Index: frameIndex(f), SubIndex: frameSubIndex(f)}, nil
}

// --- Upload Initiate Request (ccs=2) ---

func encodeUploadInitiateRequest(entry dict.Entry) can.Frame {
	return newRequestFrame(csUploadOrDownloadInit<<5, entry)
}

func decodeUploadInitiateRequest(f can.Frame) (dict.Entry, error) {
	if f.DLC != 8 {
		return dict.Entry{}, ErrMalformed
	}
	if commandSpecifier(f.Data[0]) != csUploadOrDownloadInit {
		return dict.Entry{}, errUnexpectedCommand
	}
	return dict.Entry{Index: frameIndex(f), SubIndex: frameSubIndex(f)}, nil
}

// --- Segment frame shared by Download Segment Request (ccs=0) and
// Upload Segment Response (scs=0): byte0 = cs<<5 | toggle<<4 | num<<1 | done,
// num is the count of UNUSED trailing payload bytes (CiA 301 meaning,
// see DESIGN.md Open Question 2), 7 payload bytes follow.

type segmentFrame struct {
	Toggle  uint8
	Done    bool
	Payload []byte // 0-7 used bytes
}

func encodeSegmentFrame(s segmentFrame) can.Frame {
	f := can.NewFrame(0, 0, 8)
	used := len(s.Payload)
	unused := 7 - used
	b0 := (s.Toggle << 4) | (uint8(unused) << 1)
	if s.Done {
		b0 |= 0x01
	}
	f.Data[0] = b0
	copy(f.Data[1:8], s.Payload)
	return f
}

func decodeSegmentFrame(f can.Frame) (segmentFrame, error) {
	if f.DLC != 8 {
		return segmentFrame{}, ErrMalformed
	}
	if commandSpecifier(f.Data[0]) != csUploadSegmentResponse {
		return segmentFrame{}, errUnexpectedCommand
	}
	unused := (f.Data[0] >> 1) & 0x07
	used := 7 - int(unused)
	if used < 0 || used > 7 {
		return segmentFrame{}, ErrMalformed
	}
	return segmentFrame{
		Toggle:  (f.Data[0] >> 4) & 0x01,
		Done:    f.Data[0]&0x01 != 0,
		Payload: append([]byte(nil), f.Data[1:1+used]...),
	}, nil
}

// --- Download Segment Response (scs=1), echoes toggle only ---

func encodeDownloadSegmentResponse(toggle uint8) can.Frame {
	f := can.NewFrame(0, 0, 8)
	f.Data[0] = (csDownloadSegmentResp << 5) | (toggle << 4)
	return f
}

func decodeDownloadSegmentResponse(f can.Frame) (toggle uint8, err error) {
	if f.DLC != 8 {
		return 0, ErrMalformed
	}
	if f.Data[0]&0xEF != csDownloadSegmentResp<<5 {
		return 0, errUnexpectedCommand
	}
	return (f.Data[0] >> 4) & 0x01, nil
}

// --- Upload Segment Request (ccs=3), carries toggle only ---

func encodeUploadSegmentRequest(toggle uint8) can.Frame {
	f := can.NewFrame(0, 0, 8)
	f.Data[0] = (csUploadSegmentRequest << 5) | (toggle << 4)
	return f
}

func decodeUploadSegmentRequest(f can.Frame) (toggle uint8, err error) {
	if f.DLC != 8 {
		return 0, ErrMalformed
	}
	if f.Data[0]&0xEF != csUploadSegmentRequest<<5 {
		return 0, errUnexpectedCommand
	}
	return (f.Data[0] >> 4) & 0x01, nil
}

// --- Abort Transfer (cs=4) ---

func encodeAbort(entry dict.Entry, code AbortCode) can.Frame {
	f := newRequestFrame(csAbort<<5, entry)
	binary.LittleEndian.PutUint32(f.Data[4:], uint32(code))
	return f
}

func decodeAbort(f can.Frame) (dict.Entry, AbortCode, error) {
	if f.DLC != 8 {
		return dict.Entry{}, 0, ErrMalformed
	}
	if commandSpecifier(f.Data[0]) != csAbort {
		return dict.Entry{}, 0, errUnexpectedCommand
	}
	entry := dict.Entry{Index: frameIndex(f), SubIndex: frameSubIndex(f)}
	code := AbortCode(binary.LittleEndian.Uint32(f.Data[4:]))
	return entry, code, nil
}

func isAbortFrame(f can.Frame) bool {
	return f.DLC == 8 && commandSpecifier(f.Data[0]) == csAbort
}
