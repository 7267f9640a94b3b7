package modem_test

import (
	"bufio"
	"bytes"
	"fmt"
	"time"

	"i4.energy/across/satbridge/at"
	"i4.energy/across/satbridge/link"
	"i4.energy/across/satbridge/modem"
)

// MockSequenceBuilder collects the expected command writes of a session
// in order, for use with gomock.InOrder.
type MockSequenceBuilder struct {
	link  *link.MockLink
	calls []any
}

func NewMockSequence(l *link.MockLink) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		link:  l,
		calls: []any{},
	}
}

func (b *MockSequenceBuilder) Send(wire string) *MockSequenceBuilder {
	b.calls = append(b.calls, b.link.EXPECT().Send([]byte(wire)).Return(nil))
	return b
}

func (b *MockSequenceBuilder) Configure(rings int) *MockSequenceBuilder {
	return b.
		Send("AT+CMEE=1\r").
		Send("AT+CREG=1\r").
		Send("AT+CBST=4,0,1\r").
		Send(fmt.Sprintf("ATS0=%d\r", rings+1))
}

func (b *MockSequenceBuilder) SimStatus() *MockSequenceBuilder {
	return b.Send("AT+CPIN?\r")
}

func (b *MockSequenceBuilder) SimUnlock(pin string) *MockSequenceBuilder {
	return b.Send(fmt.Sprintf("AT+CPIN=\"%s\"\r", pin))
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// okResponder answers every command like a healthy Iridium 9523 would,
// echo included.
func okResponder(sent []byte) []byte {
	cmd := string(bytes.TrimSuffix(sent, []byte("\r")))
	switch cmd {
	case "+++":
		return []byte("\r\nOK\r\n")
	case "AT+CPIN?":
		return []byte(cmd + "\r\r\n+CPIN: READY\r\n\r\nOK\r\n")
	case "ATA":
		return []byte(cmd + "\r\r\nCONNECT 2400\r\n")
	default:
		return []byte(cmd + "\r\r\nOK\r\n")
	}
}

// pump feeds every line waiting on l into the session, including replies
// produced while doing so, like the bridge does on each tick.
func pump(s *modem.Session, l *link.TestLink, now time.Time) {
	for {
		data, err := l.TryRecv(0)
		if err != nil || data == nil {
			return
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Split(at.Splitter)
		for scanner.Scan() {
			s.HandleLine(scanner.Text(), now)
		}
	}
}

// feed hands literal lines to the session.
func feed(s *modem.Session, now time.Time, lines ...string) {
	for _, line := range lines {
		s.HandleLine(line, now)
	}
}

type transitions []string

func (tr *transitions) record(from, to modem.State) {
	*tr = append(*tr, from.String()+"->"+to.String())
}
