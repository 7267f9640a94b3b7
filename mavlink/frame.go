package mavlink

import (
	"bufio"
	"fmt"
)

const (
	MagicV1 = 0xFE
	MagicV2 = 0xFD

	headerLenV1  = 6
	headerLenV2  = 10
	checksumLen  = 2
	signatureLen = 13

	// flagSigned is the only incompatibility flag defined for MAVLink 2.
	flagSigned = 0x01

	// MaxFrameLen is the largest frame on the wire, a signed v2 frame
	// with a full payload.
	MaxFrameLen = headerLenV2 + 255 + checksumLen + signatureLen
)

// Frame is a MAVLink v1 or v2 frame. Payload and Raw share the underlying
// bytes passed to Parse.
type Frame struct {
	Version int
	Seq     uint8
	SysID   uint8
	CompID  uint8
	MsgID   MessageID
	Signed  bool
	Payload []byte
	Raw     []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("v%d %s seq=%d sys=%d comp=%d len=%d", f.Version, f.MsgID, f.Seq, f.SysID, f.CompID, len(f.Payload))
}

// IsMagic reports whether b starts a MAVLink frame.
func IsMagic(b byte) bool {
	return b == MagicV1 || b == MagicV2
}

// IndexMagic returns the index of the first magic byte in data, or -1.
func IndexMagic(data []byte) int {
	for i, b := range data {
		if IsMagic(b) {
			return i
		}
	}
	return -1
}

// FrameLen returns the length of the frame at the start of data. It
// returns ErrNotMAVLink when data does not start with a frame header and
// ErrTruncated when more bytes are needed to know or to complete it.
func FrameLen(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrTruncated
	}
	switch data[0] {
	case MagicV1:
		if len(data) < 2 {
			return 0, ErrTruncated
		}
		n := headerLenV1 + int(data[1]) + checksumLen
		if len(data) < n {
			return n, ErrTruncated
		}
		return n, nil
	case MagicV2:
		if len(data) < 3 {
			return 0, ErrTruncated
		}
		if data[2]&^flagSigned != 0 {
			return 0, ErrNotMAVLink
		}
		n := headerLenV2 + int(data[1]) + checksumLen
		if data[2]&flagSigned != 0 {
			n += signatureLen
		}
		if len(data) < n {
			return n, ErrTruncated
		}
		return n, nil
	default:
		return 0, ErrNotMAVLink
	}
}

// Splitter extracts MAVLink frames from a byte stream. It uses the
// signature of bufio.SplitFunc so it can be directly used with
// bufio.Scanner.
//
// Bytes before a magic byte are skipped. A v2 header with unknown
// incompatibility flags is treated as noise and the scan resumes at the
// next byte. An incomplete frame at EOF is dropped.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	switch start := IndexMagic(data); {
	case start < 0:
		return len(data), nil, nil
	case start > 0:
		return start, nil, nil
	}

	n, ferr := FrameLen(data)
	switch ferr {
	case nil:
		return n, data[:n], nil
	case ErrNotMAVLink:
		return 1, nil, nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Parse decodes the header of a complete frame. raw must hold exactly one
// frame, as returned by Splitter.
func Parse(raw []byte) (Frame, error) {
	n, err := FrameLen(raw)
	if err != nil {
		return Frame{}, err
	}
	if n != len(raw) {
		return Frame{}, fmt.Errorf("%w: %d trailing bytes", ErrNotMAVLink, len(raw)-n)
	}

	length := int(raw[1])
	if raw[0] == MagicV1 {
		return Frame{
			Version: 1,
			Seq:     raw[2],
			SysID:   raw[3],
			CompID:  raw[4],
			MsgID:   MessageID(raw[5]),
			Payload: raw[headerLenV1 : headerLenV1+length],
			Raw:     raw,
		}, nil
	}
	return Frame{
		Version: 2,
		Signed:  raw[2]&flagSigned != 0,
		Seq:     raw[4],
		SysID:   raw[5],
		CompID:  raw[6],
		MsgID:   MessageID(raw[7]) | MessageID(raw[8])<<8 | MessageID(raw[9])<<16,
		Payload: raw[headerLenV2 : headerLenV2+length],
		Raw:     raw,
	}, nil
}

// Encode builds an unsigned frame. The message must be in the CRC table.
func Encode(version int, seq, sysID, compID uint8, id MessageID, payload []byte) ([]byte, error) {
	extra, ok := crcExtras[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if len(payload) > 255 {
		return nil, fmt.Errorf("mavlink: payload of %d bytes", len(payload))
	}

	var out []byte
	switch version {
	case 1:
		if id > 255 {
			return nil, fmt.Errorf("mavlink: %s does not fit a v1 frame", id)
		}
		out = append(out, MagicV1, byte(len(payload)), seq, sysID, compID, byte(id))
	case 2:
		out = append(out, MagicV2, byte(len(payload)), 0, 0, seq, sysID, compID,
			byte(id), byte(id>>8), byte(id>>16))
	default:
		return nil, fmt.Errorf("mavlink: unsupported version %d", version)
	}
	out = append(out, payload...)

	crc := crcCalculate(out[1:])
	crc = crcAccumulate(extra, crc)
	return append(out, byte(crc), byte(crc>>8)), nil
}

// CheckCRC verifies the checksum of f. known is false when the message is
// not in the CRC table, in which case ok is meaningless.
func CheckCRC(f Frame) (ok, known bool) {
	extra, known := crcExtras[f.MsgID]
	if !known {
		return false, false
	}
	end := len(f.Raw) - checksumLen
	if f.Signed {
		end -= signatureLen
	}
	crc := crcCalculate(f.Raw[1:end])
	crc = crcAccumulate(extra, crc)
	return f.Raw[end] == byte(crc) && f.Raw[end+1] == byte(crc>>8), true
}

// crcAccumulate is the X.25 (CRC-16/MCRF4XX) step used by MAVLink.
func crcAccumulate(b byte, crc uint16) uint16 {
	tmp := b ^ byte(crc)
	tmp ^= tmp << 4
	return (crc >> 8) ^ uint16(tmp)<<8 ^ uint16(tmp)<<3 ^ uint16(tmp)>>4
}

func crcCalculate(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crcAccumulate(b, crc)
	}
	return crc
}
