package can

import "errors"

var ErrExtendedIdUnsupported = errors.New("can: only standard 11-bit identifiers are supported")
