package bridge

import (
	"errors"

	"i4.energy/across/satbridge/at"
	"i4.energy/across/satbridge/mavlink"
)

// maxBuffered bounds what the demultiplexer keeps while waiting for a
// line end or the rest of a frame.
const maxBuffered = 4096

// TokenKind tells what Demux.Next returned.
type TokenKind int

const (
	TokenNone TokenKind = iota
	TokenLine
	TokenFrame
)

// Demux separates the modem link byte stream into AT lines and MAVLink
// frames. A frame starts with a MAVLink magic byte, which never appears
// in AT text, everything else is read line by line.
//
// A magic byte can also be line noise. A frame is accepted only if its
// checksum verifies, or, for messages without a known checksum, when
// Lenient is set and no modem status line hides inside it. A partial
// frame followed by a complete status line is given up on.
type Demux struct {
	// Lenient accepts frames whose checksum cannot be verified. The
	// bridge sets it while a data session is up.
	Lenient bool

	buf     []byte
	dropped int
}

// Write appends received bytes.
func (d *Demux) Write(p []byte) {
	d.buf = append(d.buf, p...)
	if len(d.buf) > maxBuffered {
		// Nothing sensible can be this long, start over.
		d.dropped += len(d.buf)
		d.buf = d.buf[:0]
	}
}

// Next returns the next complete token. The returned frame bytes are a
// copy, lines are trimmed of their terminator. Blank lines are skipped.
func (d *Demux) Next() (TokenKind, []byte) {
	for len(d.buf) > 0 {
		if mavlink.IsMagic(d.buf[0]) {
			n, err := mavlink.FrameLen(d.buf)
			switch {
			case err == nil && d.plausible(d.buf[:n]):
				frame := append([]byte(nil), d.buf[:n]...)
				d.consume(n)
				return TokenFrame, frame
			case errors.Is(err, mavlink.ErrTruncated) && !hasStatusLine(d.buf[1:]):
				return TokenNone, nil
			}
			d.dropped++
			d.consume(1)
			continue
		}

		// Noise up to a frame that starts before the current line ends.
		if m := mavlink.IndexMagic(d.buf); m > 0 && !hasLineEnd(d.buf[:m]) {
			d.dropped += m
			d.consume(m)
			continue
		}

		advance, token, _ := at.Splitter(d.buf, false)
		if advance == 0 {
			return TokenNone, nil
		}
		line := append([]byte(nil), token...)
		d.consume(advance)
		if len(line) == 0 {
			continue
		}
		return TokenLine, line
	}
	return TokenNone, nil
}

// Dropped returns the number of noise bytes discarded so far.
func (d *Demux) Dropped() int {
	return d.dropped
}

// Reset discards buffered bytes, e.g. after the link was replaced.
func (d *Demux) Reset() {
	d.buf = d.buf[:0]
}

func (d *Demux) consume(n int) {
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

func (d *Demux) plausible(raw []byte) bool {
	f, err := mavlink.Parse(raw)
	if err != nil {
		return false
	}
	if ok, known := mavlink.CheckCRC(f); known {
		return ok
	}
	return d.Lenient && !hasStatusLine(raw[1:])
}

// hasStatusLine reports whether p holds a complete final result or
// unsolicited line.
func hasStatusLine(p []byte) bool {
	for len(p) > 0 {
		advance, token, _ := at.Splitter(p, false)
		if advance == 0 {
			return false
		}
		switch at.Classify(string(token)) {
		case at.TypeFinal, at.TypeURC:
			return true
		}
		p = p[advance:]
	}
	return false
}

func hasLineEnd(p []byte) bool {
	for _, b := range p {
		if b == '\r' || b == '\n' {
			return true
		}
	}
	return false
}
