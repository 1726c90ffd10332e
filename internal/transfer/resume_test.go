package transfer

import (
	"testing"
)

func TestResumeDataRoundTrip(t *testing.T) {
	r := NewResumeData()
	r.SetOffset(ForkDATA, 1234)
	r.SetOffset(ForkMACR, 56)

	b, err := r.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != resumeHeaderSize+2*16 {
		t.Fatalf("len = %d, want %d", len(b), resumeHeaderSize+32)
	}
	if string(b[0:4]) != "RFLT" {
		t.Errorf("format = %q", b[0:4])
	}

	got := ParseResumeData(b)
	if got.Offset(ForkDATA) != 1234 || got.Offset(ForkMACR) != 56 {
		t.Errorf("offsets = %s", got)
	}
	if got.TotalOffset() != 1290 {
		t.Errorf("TotalOffset() = %d", got.TotalOffset())
	}
	if forks := got.Forks(); len(forks) != 2 || forks[0] != ForkDATA {
		t.Errorf("Forks() = %v", forks)
	}
}

func TestParseResumeDataShort(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"header_only_prefix", make([]byte, 41)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := ParseResumeData(tc.data)
			if r.TotalOffset() != 0 || len(r.Forks()) != 0 {
				t.Errorf("ParseResumeData(%d bytes) = %s", len(tc.data), r)
			}
		})
	}
}

func TestParseResumeDataTruncatedEntry(t *testing.T) {
	r := NewResumeData()
	r.SetOffset(ForkDATA, 10)
	r.SetOffset(ForkMACR, 20)
	b, _ := r.MarshalBinary()

	got := ParseResumeData(b[:resumeHeaderSize+16+4])
	if got.Offset(ForkDATA) != 10 {
		t.Errorf("DATA offset = %d", got.Offset(ForkDATA))
	}
	if got.Offset(ForkMACR) != 0 {
		t.Errorf("truncated MACR entry parsed as %d", got.Offset(ForkMACR))
	}
}

func TestNilResumeData(t *testing.T) {
	var r *ResumeData
	if r.Offset(ForkDATA) != 0 || r.TotalOffset() != 0 || r.Forks() != nil {
		t.Error("nil ResumeData not empty")
	}
}
