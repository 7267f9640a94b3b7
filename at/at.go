package at

import "fmt"

const (
	// Terminal Control
	CR   = "\r"
	CRLF = "\r\n"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	Connect    = "CONNECT"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcRing         = "RING"
	UrcRingExtended = "+CRING:"
	UrcSBDRing      = "SBDRING"
	UrcRegistration = "+CREG:"
	UrcNewMsg       = "+CMTI:"

	// SIM states reported by AT+CPIN?
	SimReady = "+CPIN: READY"
	SimPin   = "+CPIN: SIM PIN"
)

// Commands issued by the modem session. The Iridium 9523 accepts the
// standard GSM 07.07 forms for all of them.
const (
	CmdAt           = "AT"
	CmdReportErrors = "AT+CMEE=1"
	CmdRegistration = "AT+CREG=1"
	// 2400 bps V.22bis, asynchronous modem, non-transparent.
	CmdBearer    = "AT+CBST=4,0,1"
	CmdSimStatus = "AT+CPIN?"
	CmdAnswer    = "ATA"
	CmdHangup    = "ATH"
	// CmdEscape returns the modem from data to command mode. It must be
	// written without a line terminator and surrounded by guard time.
	CmdEscape = "+++"
)

// AutoAnswer returns the command that makes the modem answer an incoming
// call by itself after the given number of rings.
func AutoAnswer(rings int) string {
	return fmt.Sprintf("ATS0=%d", rings)
}

// SimUnlock returns the command that submits the SIM PIN.
func SimUnlock(pin string) string {
	return fmt.Sprintf(`AT+CPIN="%s"`, pin)
}

type ResponseType int

const (
	TypeFinal ResponseType = iota // OK, ERROR, CONNECT, NO CARRIER
	TypeURC                       // Asynchronous notifications
	TypeData                      // Intermediate command output (+CREG: 0,1 ...)
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	default:
		return "unknown"
	}
}
