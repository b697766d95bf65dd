package wire

import (
	"errors"
	"testing"
)

func TestChecksum(t *testing.T) {
	// "1:gDC" = 0x31 + 0x3A + 0x67 + 0x44 + 0x43 = 0x159
	if got := Checksum("1:gDC"); got != 0x159 {
		t.Errorf("Checksum = %#x, want 0x159", got)
	}
	if got := FormatChecksum(0x151); got != "0151" {
		t.Errorf("FormatChecksum = %q, want %q", got, "0151")
	}
	if got := FormatChecksum(0xABCD); got != "ABCD" {
		t.Errorf("FormatChecksum = %q, want uppercase", got)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	lines := []struct {
		name      string
		line      string
		checksums bool
		want      Message
	}{
		{"control", "0:Handshake:BP:1:0:utf8", false, Message{0, "Handshake:BP:1:0:utf8"}},
		{"request", "12:gPI:D1", false, Message{12, "gPI:D1"}},
		{"empty payload", "3:", false, Message{3, ""}},
		{"escaped part", `4:L:S1:0:a\:b`, false, Message{4, `L:S1:0:a\:b`}},
		{"checksummed", "0159:1:gDC", true, Message{1, "gDC"}},
	}

	for _, tt := range lines {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCodec()
			c.SetChecksums(tt.checksums)

			m, err := c.Decode(tt.line)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", tt.line, err)
			}
			if m != tt.want {
				t.Errorf("Decode(%q) = %+v, want %+v", tt.line, m, tt.want)
			}
			if got := c.Encode(m); got != tt.line {
				t.Errorf("Encode(Decode(%q)) = %q", tt.line, got)
			}
		})
	}
}

func TestCodecDecodeErrors(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		checksums bool
	}{
		{"no separator", "gDC", false},
		{"missing channel", ":gDC", false},
		{"non-numeric channel", "x:gDC", false},
		{"negative channel", "-1:gDC", false},
		{"channel overflow", "4294967296:gDC", false},
		{"missing checksum", "1:gDC", true},
		{"bad checksum digits", "ZZZZ:1:gDC", true},
		{"corrupt checksum", "015A:1:gDC", true},
		{"corrupt body", "0159:1:gDD", true},
		{"leading zero channel", "07:x", false},
		{"leading zero channel checksummed", "0229:01:Ping", true},
		{"lowercase checksum", "01f9:1:Ping", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCodec()
			c.SetChecksums(tt.checksums)
			_, err := c.Decode(tt.line)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", tt.line, err)
			}
		})
	}
}

func TestCodecChecksumToggle(t *testing.T) {
	c := NewCodec()
	m := NewMessage(7, "a")

	if got := c.Encode(m); got != "7:a" {
		t.Errorf("Encode without checksum = %q", got)
	}

	c.SetChecksums(true)
	if !c.Checksums() {
		t.Fatal("Checksums() = false after enabling")
	}
	line := c.Encode(m)
	if line != FormatChecksum(Checksum("7:a"))+":7:a" {
		t.Errorf("Encode with checksum = %q", line)
	}
	if got, err := c.Decode(line); err != nil || got != m {
		t.Errorf("Decode(%q) = %+v, %v", line, got, err)
	}
}
