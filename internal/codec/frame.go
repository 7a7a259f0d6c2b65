package codec

import (
	"bufio"
	"bytes"
	"io"
)

// MaxASCIILen bounds a text record; longer runs are cut and fail to decode.
const MaxASCIILen = 512

// ReadFrame reads exactly one record from a byte stream. Text records end at '#',
// binary records are BinaryFrameLen bytes long. Bytes that do not start with a known
// marker are consumed up to the next marker or the end of what has been received,
// and returned as one frame so Decode rejects them with ErrBadProtocol. Line breaks
// between records are skipped.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	first, err := skipLineBreaks(r)
	if err != nil {
		return nil, err
	}

	switch first {
	case markerASCII:
		return readUntil(r, '#')
	case markerBinary:
		buf := make([]byte, BinaryFrameLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	default:
		return readGarbage(r)
	}
}

// FirstFrame extracts the first complete record of a sample, or nil when the
// sample holds no complete record.
func FirstFrame(sample []byte) []byte {
	frame, err := ReadFrame(bufio.NewReader(bytes.NewReader(sample)))
	if err != nil {
		return nil
	}
	return frame
}

func skipLineBreaks(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return 0, err
		}
		if b[0] != '\r' && b[0] != '\n' {
			return b[0], nil
		}
		_, _ = r.ReadByte()
	}
}

func readUntil(r *bufio.Reader, end byte) ([]byte, error) {
	buf := make([]byte, 0, 128)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		buf = append(buf, b)
		if b == end || len(buf) >= MaxASCIILen {
			return buf, nil
		}
	}
}

func readGarbage(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for len(buf) < MaxASCIILen {
		b, err := r.ReadByte()
		if err != nil {
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
		buf = append(buf, b)
		// only look at bytes already received; a silent peer must not hold the frame back
		if r.Buffered() == 0 {
			break
		}
		next, _ := r.Peek(1)
		if next[0] == markerASCII || next[0] == markerBinary {
			break
		}
	}
	return buf, nil
}
