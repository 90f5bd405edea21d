package sdo

import (
	"errors"
	"fmt"
)

// AbortCode is a 32-bit SDO abort reason, carried in the last 4 bytes of
// an Abort Transfer frame.
type AbortCode uint32

// Codes the state machine itself can emit (spec §4.2), plus the rest of
// the CiA 301 catalogue accepted on inbound abort frames and surfaced to
// the caller as descriptive text. Block-transfer-only codes are kept
// here even though block SDO is out of scope (spec Non-goals) because
// inbound abort frames from a real server may still carry them.
const (
	AbortToggleBit         AbortCode = 0x05030000
	AbortTimeout           AbortCode = 0x05040000
	AbortCommandSpecifier  AbortCode = 0x05040001
	AbortBlockSize         AbortCode = 0x05040002
	AbortSeqNum            AbortCode = 0x05040003
	AbortCRC               AbortCode = 0x05040004
	AbortOutOfMemory       AbortCode = 0x05040005
	AbortUnsupportedAccess AbortCode = 0x06010000
	AbortWriteOnly         AbortCode = 0x06010001
	AbortReadOnly          AbortCode = 0x06010002
	AbortNotExist          AbortCode = 0x06020000
	AbortNoMap             AbortCode = 0x06040041
	AbortMapLen            AbortCode = 0x06040042
	AbortParamIncompat     AbortCode = 0x06040043
	AbortDeviceIncompat    AbortCode = 0x06040047
	AbortHardware          AbortCode = 0x06060000
	AbortTypeMismatch      AbortCode = 0x06070010
	AbortDataLong          AbortCode = 0x06070012
	AbortDataShort         AbortCode = 0x06070013
	AbortSubUnknown        AbortCode = 0x06090011
	AbortInvalidValue      AbortCode = 0x06090030
	AbortValueHigh         AbortCode = 0x06090031
	AbortValueLow          AbortCode = 0x06090032
	AbortMaxLessMin        AbortCode = 0x06090036
	AbortNoResource        AbortCode = 0x060A0023
	AbortGeneral           AbortCode = 0x08000000
	AbortDataTransfer      AbortCode = 0x08000020
	AbortDataLocalControl  AbortCode = 0x08000021
	AbortDataDeviceState   AbortCode = 0x08000022
	AbortDataOD            AbortCode = 0x08000023
	AbortNoData            AbortCode = 0x08000024
)

var abortDescriptions = map[AbortCode]string{
	AbortToggleBit:         "Toggle bit not alternated.",
	AbortTimeout:           "SDO protocol timed out.",
	AbortCommandSpecifier:  "Client/server command specifier not valid or unknown.",
	AbortBlockSize:         "Invalid block size (block mode only).",
	AbortSeqNum:            "Invalid sequence number (block mode only).",
	AbortCRC:               "CRC error (block mode only).",
	AbortOutOfMemory:       "Out of memory.",
	AbortUnsupportedAccess: "Unsupported access to an object.",
	AbortWriteOnly:         "Attempt to read a write only object.",
	AbortReadOnly:          "Attempt to write a read only object.",
	AbortNotExist:          "Object does not exist in the object dictionary.",
	AbortNoMap:             "Object cannot be mapped to the PDO.",
	AbortMapLen:            "Number and length of mapped objects exceeds PDO length.",
	AbortParamIncompat:     "General parameter incompatibility reason.",
	AbortDeviceIncompat:    "General internal incompatibility in the device.",
	AbortHardware:          "Access failed due to a hardware error.",
	AbortTypeMismatch:      "Data type does not match, length of service parameter does not match.",
	AbortDataLong:          "Data type does not match, length of service parameter too high.",
	AbortDataShort:         "Data type does not match, length of service parameter too low.",
	AbortSubUnknown:        "Sub-index does not exist.",
	AbortInvalidValue:      "Invalid value for parameter (download only).",
	AbortValueHigh:         "Value of parameter written too high (download only).",
	AbortValueLow:          "Value of parameter written too low (download only).",
	AbortMaxLessMin:        "Maximum value is less than minimum value.",
	AbortNoResource:        "Resource not available: SDO connection.",
	AbortGeneral:           "General error.",
	AbortDataTransfer:      "Data cannot be transferred or stored to the application.",
	AbortDataLocalControl:  "Data cannot be transferred or stored to the application because of local control.",
	AbortDataDeviceState:   "Data cannot be transferred or stored to the application because of the present device state.",
	AbortDataOD:            "Object dictionary dynamic generation fails or no object dictionary is present.",
	AbortNoData:            "No data available.",
}

// Description returns the catalogue text for code, or a generic message
// for codes outside the known catalogue (still accepted on inbound
// abort frames, per spec §4.2).
func (code AbortCode) Description() string {
	if text, ok := abortDescriptions[code]; ok {
		return text
	}
	return "Abort code is reserved or unknown"
}

func (code AbortCode) String() string {
	return fmt.Sprintf("x%08x (%s)", uint32(code), code.Description())
}

// Sentinel errors for the non-abort failure kinds of spec §6/§7.
var (
	ErrBusy      = errors.New("sdo: timed out acquiring the client's exclusion lock")
	ErrTimeout   = errors.New("sdo: no response from server within the configured timeout")
	ErrMalformed = errors.New("sdo: malformed frame (wrong DLC or unexpected command)")
	ErrInvalid   = errors.New("sdo: invalid arguments or client not initialized")
)

// AbortError is returned when a transfer ends in an Abort Transfer
// frame, either sent by the client (LocalAbort, a protocol violation it
// detected) or received from the server (RemoteAbort).
type AbortError struct {
	Code   AbortCode
	Remote bool
}

func (e *AbortError) Error() string {
	if e.Remote {
		return fmt.Sprintf("sdo: remote abort %s", e.Code)
	}
	return fmt.Sprintf("sdo: local abort %s", e.Code)
}
