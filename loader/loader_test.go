package loader_test

import (
	"encoding/binary"
	"testing"

	"github.com/rtedbg/rtemsg/loader"
)

func headerBytes(lastIndex, filter, cfg, freq, filterCopy, bufSize uint32) []byte {
	buf := make([]byte, loader.HeaderWords*4)
	words := []uint32{lastIndex, filter, cfg, freq, filterCopy, bufSize}
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func wordsToBytes(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func TestParseHeaderSingleShot(t *testing.T) {
	data := headerBytes(3, 0, 9, 1000, 0, 0)
	h, err := loader.ParseHeader(data, 9)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Mode != loader.ModeSingleShot {
		t.Errorf("mode = %v, want single-shot", h.Mode)
	}
	if h.FmtIDBits != 9 {
		t.Errorf("FmtIDBits = %d, want 9", h.FmtIDBits)
	}
}

func TestParseHeaderPostMortem(t *testing.T) {
	cfg := uint32(9) | 1<<5
	data := headerBytes(2, 0, cfg, 1000, 0, 8)
	h, err := loader.ParseHeader(data, 9)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Mode != loader.ModePostMortem {
		t.Errorf("mode = %v, want post-mortem", h.Mode)
	}
}

func TestParseHeaderStreaming(t *testing.T) {
	data := headerBytes(0, 0, 9, 1000, 0, loader.StreamingSentinelA)
	h, err := loader.ParseHeader(data, 9)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Mode != loader.ModeStreaming {
		t.Errorf("mode = %v, want streaming", h.Mode)
	}
}

func TestParseHeaderRejectsReservedBits(t *testing.T) {
	data := headerBytes(0, 0, 9|1<<10, 1000, 0, 0)
	if _, err := loader.ParseHeader(data, 9); err == nil {
		t.Fatal("expected a fatal error for non-zero reserved cfg bits")
	}
}

func TestParseHeaderRejectsIDBitsMismatch(t *testing.T) {
	data := headerBytes(0, 0, 9, 1000, 0, 0)
	if _, err := loader.ParseHeader(data, 12); err == nil {
		t.Fatal("expected a fatal error for fmt_id_bits mismatch")
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, err := loader.ParseHeader([]byte{1, 2, 3}, 9); err == nil {
		t.Fatal("expected a fatal error for a truncated header")
	}
}

func TestParseHeaderZeroFrequencyWarns(t *testing.T) {
	data := headerBytes(0, 0, 9, 0, 0, 0)
	h, err := loader.ParseHeader(data, 9)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.TimestampFrequency != 1 {
		t.Errorf("TimestampFrequency = %d, want substituted 1", h.TimestampFrequency)
	}
	if len(h.Warnings) == 0 {
		t.Error("expected a warning about zero timestamp_frequency")
	}
}

func TestLoadSingleShotSkipsLeadingSentinels(t *testing.T) {
	h := &loader.Header{LastIndex: 5, Mode: loader.ModeSingleShot}
	payload := wordsToBytes([]uint32{loader.EmptySlot, loader.EmptySlot, 10, 20, 30})

	words, err := loader.Load(payload, h)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []uint32{10, 20, 30}
	if !equalWords(words, want) {
		t.Errorf("words = %v, want %v", words, want)
	}
}

func TestLoadPostMortemReorders(t *testing.T) {
	h := &loader.Header{LastIndex: 2, BufferSize: 8, Mode: loader.ModePostMortem}
	payload := wordsToBytes([]uint32{100, 101, 102, 103, 104, 105, 106, 107})

	words, err := loader.Load(payload, h)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// buffer_size=8 is a power of two but none of the tail words are the
	// empty sentinel, so k=0 and a skip of 4 is wanted for alignment; it
	// is capped at the 2 head words, leaving none of [0,last_index) behind.
	want := []uint32{102, 103, 104, 105, 106, 107}
	if !equalWords(words, want) {
		t.Errorf("words = %v, want %v", words, want)
	}
}

func TestLoadPostMortemKeepsUnskippedHeadWhenTrailerEmpty(t *testing.T) {
	h := &loader.Header{LastIndex: 2, BufferSize: 8, Mode: loader.ModePostMortem}
	payload := wordsToBytes([]uint32{100, 101, 102, 103, 104, loader.EmptySlot, loader.EmptySlot, loader.EmptySlot})

	words, err := loader.Load(payload, h)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// k=3 empty trailer words -> skip only 1 head word.
	want := []uint32{102, 103, 104, loader.EmptySlot, loader.EmptySlot, loader.EmptySlot, 101}
	if !equalWords(words, want) {
		t.Errorf("words = %v, want %v", words, want)
	}
}

func equalWords(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
