package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodingRLE marks a LAYER_UPDATE payload as (value, run_len) pairs, the run length as a uvarint.
const EncodingRLE = "rle"

// EncodeRLE encodes a pixel buffer as repeated (value byte, uvarint run) pairs.
func EncodeRLE(px []byte) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(px) {
		b := px[i]
		run := 1
		for j := i + 1; j < len(px) && px[j] == b; j++ {
			run++
		}

		buf.WriteByte(b)
		n := binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}
	return buf.Bytes()
}

// DecodeRLE expands an EncodeRLE payload, refusing to produce more than limit bytes.
func DecodeRLE(raw []byte, limit int) ([]byte, error) {
	out := make([]byte, 0, limit)
	for i := 0; i < len(raw); {
		b := raw[i]
		i++
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if run == 0 || run > uint64(limit-len(out)) {
			return nil, fmt.Errorf("run of %d at %d exceeds limit %d", run, i, limit)
		}
		out = append(out, bytes.Repeat([]byte{b}, int(run))...)
	}
	return out, nil
}

// Pixels returns the decoded payload of an update.
func (m LayerUpdateMsg) Pixels() ([]byte, error) {
	switch m.Encoding {
	case "":
		return m.Data, nil
	case EncodingRLE:
		return DecodeRLE(m.Data, m.Width*m.Height)
	default:
		return nil, fmt.Errorf("unknown layer encoding %q", m.Encoding)
	}
}
