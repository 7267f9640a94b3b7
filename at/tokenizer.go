package at

import (
	"bufio"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// Lines end with CRLF, a bare LF, or a bare CR. The bare CR form is what
// an Iridium transceiver produces when it echoes a command back
// ("AT+CMEE=1\r\r\nOK\r\n"). A CR at the very end of the buffer is held
// back until the next byte shows whether a LF follows.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\n':
			return i + 1, data[0:i], nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[0:i], nil
				}
				return i + 1, data[0:i], nil
			}
			if atEOF {
				return i + 1, data[0:i], nil
			}
			return 0, nil, nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	// Direct matches
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	case UrcRing, UrcSBDRing:
		return TypeURC
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError),
		strings.HasPrefix(line, Connect):
		return TypeFinal
	case strings.HasPrefix(line, UrcRingExtended), strings.HasPrefix(line, UrcNewMsg):
		return TypeURC
	case strings.HasPrefix(line, UrcRegistration) && !strings.Contains(line, ","):
		// "+CREG: 1" is the unsolicited form, "+CREG: 0,1" answers a query.
		return TypeURC
	default:
		return TypeData
	}
}

// IsRing reports whether the line announces an incoming call. SBDRING is
// a short burst data mailbox alert, not a call, and does not count.
func IsRing(line string) bool {
	return line == UrcRing || strings.HasPrefix(line, UrcRingExtended)
}
