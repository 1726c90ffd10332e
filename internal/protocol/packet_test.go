package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func samplePacket() *Packet {
	p := NewPacket(TypeLogin)
	p.Seq = 1
	p.Add(DataLogin, Obfuscate("admin"))
	p.Add(DataPassword, Obfuscate("secret"))
	p.AddString(DataNick, "Jane")
	p.AddNumber(DataIcon, 128)
	return p
}

func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
	}{
		{name: "empty", packet: NewPacket(TypePing)},
		{name: "login", packet: samplePacket()},
		{name: "error_reply", packet: samplePacket().Error("Login is incorrect.")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := tc.packet.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() error = %v", err)
			}
			size := binary.BigEndian.Uint32(encoded[12:16])
			check := binary.BigEndian.Uint32(encoded[16:20])
			if size != check {
				t.Errorf("size = %d, checksum = %d, want equal", size, check)
			}

			got, n, err := ParsePacket(encoded)
			if err != nil {
				t.Fatalf("ParsePacket() error = %v", err)
			}
			if n != PacketHeaderSize+int(size) || n != len(encoded) {
				t.Errorf("consumed = %d, want %d", n, PacketHeaderSize+int(size))
			}
			if got.Kind != tc.packet.Kind || got.Seq != tc.packet.Seq || got.Flags != tc.packet.Flags {
				t.Errorf("header = %d/%d/%d, want %d/%d/%d",
					got.Kind, got.Seq, got.Flags, tc.packet.Kind, tc.packet.Seq, tc.packet.Flags)
			}
			if got.Count() != tc.packet.Count() {
				t.Fatalf("Count() = %d, want %d", got.Count(), tc.packet.Count())
			}
			for i, o := range got.Objects() {
				want := tc.packet.Objects()[i]
				if o.Kind != want.Kind || !bytes.Equal(o.Data, want.Data) {
					t.Errorf("object %d mismatch", i)
				}
			}
		})
	}
}

func TestParsePacketIncremental(t *testing.T) {
	encoded, err := samplePacket().MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	for _, chunk := range []int{1, 3, 7, 20, len(encoded)} {
		var buf []byte
		var got *Packet
		consumed := 0
		for off := 0; off < len(encoded); off += chunk {
			end := off + chunk
			if end > len(encoded) {
				end = len(encoded)
			}
			buf = append(buf, encoded[off:end]...)
			p, n, err := ParsePacket(buf)
			if errors.Is(err, ErrIncomplete) {
				if n != 0 {
					t.Fatalf("chunk %d: incomplete parse consumed %d", chunk, n)
				}
				continue
			}
			if err != nil {
				t.Fatalf("chunk %d: ParsePacket() error = %v", chunk, err)
			}
			got, consumed = p, n
			buf = buf[n:]
		}
		if got == nil {
			t.Fatalf("chunk %d: packet never parsed", chunk)
		}
		if consumed != len(encoded) {
			t.Errorf("chunk %d: consumed = %d, want %d", chunk, consumed, len(encoded))
		}
		if got.GetString(DataNick, "") != "Jane" || got.GetNumber(DataIcon, 0) != 128 {
			t.Errorf("chunk %d: decoded packet = %s", chunk, got)
		}
	}
}

func TestParsePacketMultiple(t *testing.T) {
	a, _ := samplePacket().MarshalBinary()
	b, _ := NewPacket(TypePing).MarshalBinary()
	buf := append(append([]byte{}, a...), b...)
	buf = append(buf, a[:10]...)

	var kinds []uint32
	for {
		p, n, err := ParsePacket(buf)
		if err != nil {
			if !errors.Is(err, ErrIncomplete) {
				t.Fatalf("ParsePacket() error = %v", err)
			}
			break
		}
		kinds = append(kinds, p.Kind)
		buf = buf[n:]
	}
	if len(kinds) != 2 || kinds[0] != TypeLogin || kinds[1] != TypePing {
		t.Errorf("kinds = %v", kinds)
	}
	if len(buf) != 10 {
		t.Errorf("leftover = %d bytes, want 10", len(buf))
	}
}

func TestDeclaredBodySize(t *testing.T) {
	p := NewPacket(TypeChat)
	p.AddString(DataString, "hello")
	b, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := DeclaredBodySize(b[:PacketHeaderSize-1]); ok {
		t.Error("size reported for a partial header")
	}
	size, ok := DeclaredBodySize(b[:PacketHeaderSize])
	if !ok || int(size) != len(b)-PacketHeaderSize {
		t.Errorf("DeclaredBodySize() = %d, %v, want %d", size, ok, len(b)-PacketHeaderSize)
	}
}

func TestParsePacketMalformedBody(t *testing.T) {
	p := NewPacket(TypeChat)
	p.AddString(DataString, "hi")
	encoded, _ := p.MarshalBinary()
	// Claim two objects while the body only holds one.
	binary.BigEndian.PutUint16(encoded[PacketHeaderSize:], 2)

	_, n, err := ParsePacket(encoded)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if n != len(encoded) {
		t.Errorf("consumed = %d, want %d", n, len(encoded))
	}
}

func TestResponseAndError(t *testing.T) {
	req := samplePacket()
	req.Seq = 77

	resp := req.Response()
	if resp.Kind != TypeTaskReply || resp.Seq != 77 || resp.Flags != 0 || resp.Count() != 0 {
		t.Errorf("Response() = %s", resp)
	}

	e := req.Error("Invalid account.")
	if e.Kind != TypeTaskReply || e.Seq != 77 || !e.IsError() {
		t.Errorf("Error() = %s", e)
	}
	if msg := e.GetString(DataError, ""); msg != "Invalid account." {
		t.Errorf("error message = %q", msg)
	}
}
