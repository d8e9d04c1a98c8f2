package protocol

import (
	"bytes"
	"testing"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]byte, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 150; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 10)

	enc := EncodeRLE(in)
	if len(enc) >= len(in) {
		t.Fatalf("no gain: %d >= %d", len(enc), len(in))
	}
	out, err := DecodeRLE(enc, len(in))
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("mismatch:\n got %v\nwant %v", out, in)
	}
}

func TestRLE_DecodeLimits(t *testing.T) {
	enc := EncodeRLE(bytes.Repeat([]byte{4}, 300))
	if _, err := DecodeRLE(enc, 299); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := DecodeRLE([]byte{4}, 10); err == nil {
		t.Fatalf("expected truncated varint error")
	}
	if _, err := DecodeRLE([]byte{4, 0}, 10); err == nil {
		t.Fatalf("expected zero run error")
	}
}

func TestLayerUpdate_Pixels(t *testing.T) {
	px := bytes.Repeat([]byte{34}, 64)
	m := LayerUpdateMsg{Width: 8, Height: 8, Encoding: EncodingRLE, Data: EncodeRLE(px)}
	got, err := m.Pixels()
	if err != nil || !bytes.Equal(got, px) {
		t.Fatalf("Pixels=%v err=%v", got, err)
	}
	m = LayerUpdateMsg{Width: 8, Height: 8, Encoding: "lz4", Data: px}
	if _, err := m.Pixels(); err == nil {
		t.Fatalf("expected unknown encoding error")
	}
}
