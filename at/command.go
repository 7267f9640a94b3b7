package at

import (
	"strconv"
	"strings"
	"time"
)

// Command is a single AT request. It is immutable once built and is
// consumed by exactly one execution on the command channel.
type Command struct {
	// Text is the command as typed, without line terminator.
	Text string
	// Timeout bounds the wait for a final response.
	Timeout time.Duration
	// Raw commands are written without the trailing CR (the +++ escape).
	Raw bool
	// Sensitive commands carry secrets and are redacted by String.
	Sensitive bool
	// Expect, when set, must accept the collected lines of a successful
	// response, otherwise the command fails with CodeUnexpected.
	Expect func(lines []string) bool
}

// Wire returns the bytes written to the modem for this command.
func (c Command) Wire() string {
	if c.Raw {
		return c.Text
	}
	return strings.TrimSpace(c.Text) + CR
}

// String returns the command text, with the argument of sensitive
// commands masked.
func (c Command) String() string {
	if !c.Sensitive {
		return c.Text
	}
	if i := strings.IndexByte(c.Text, '='); i >= 0 {
		return c.Text[:i+1] + "***"
	}
	return "***"
}

// ExpectLine returns a matcher that requires one of the response lines to
// start with prefix.
func ExpectLine(prefix string) func([]string) bool {
	return func(lines []string) bool {
		for _, l := range lines {
			if strings.HasPrefix(l, prefix) {
				return true
			}
		}
		return false
	}
}

// ResultKind is the classified outcome of a command.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultError
	ResultTimeout
	ResultUnsolicited
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultError:
		return "error"
	case ResultTimeout:
		return "timeout"
	case ResultUnsolicited:
		return "unsolicited"
	default:
		return "unknown"
	}
}

// Error codes for final results that carry no numeric code of their own.
const (
	CodeGeneric    = -1 // plain ERROR
	CodeNoCarrier  = -2
	CodeBusy       = -3
	CodeNoAnswer   = -4
	CodeNoDialtone = -5
	CodeUnexpected = -6 // OK, but the Expect matcher rejected the lines
)

// Response is the classified result of a command, or an unsolicited line.
type Response struct {
	Kind ResultKind
	// Code is set for ResultError.
	Code int
	// Lines holds intermediate data lines followed by the final line.
	Lines []string
	// Payload holds the line of a ResultUnsolicited response.
	Payload string
}

// Final returns the line that terminated the response, if any.
func (r Response) Final() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return r.Lines[len(r.Lines)-1]
}

// IsSuccess reports whether a final line completes a command successfully.
// CONNECT, with or without a rate suffix, answers ATA/ATD successfully.
func IsSuccess(line string) bool {
	return line == OK || strings.HasPrefix(line, Connect)
}

// ParseErrorCode extracts the error code from a failing final line.
// "+CME ERROR: 10" yields 10, plain ERROR yields CodeGeneric and the call
// progress results map to their negative codes. Unparseable codes yield
// CodeGeneric.
func ParseErrorCode(line string) int {
	switch line {
	case ERROR:
		return CodeGeneric
	case NoCarrier:
		return CodeNoCarrier
	case Busy:
		return CodeBusy
	case NoAnswer:
		return CodeNoAnswer
	case NoDialtone:
		return CodeNoDialtone
	}

	for _, prefix := range []string{CmeError, CmsError} {
		if strings.HasPrefix(line, prefix) {
			code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, prefix)))
			if err != nil {
				return CodeGeneric
			}
			return code
		}
	}
	return CodeGeneric
}
