package capture

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	wav, err := EncodeWAV([]int16{1, -1, 32767}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != WAVHeaderSize+6 {
		t.Fatalf("len = %d, want %d", len(wav), WAVHeaderSize+6)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad magic: %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != 6 {
		t.Errorf("data size = %d, want 6", size)
	}
	if got := PCMToSamples(wav[WAVHeaderSize:]); got[2] != 32767 || got[1] != -1 {
		t.Errorf("samples = %v", got)
	}
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestPCMToSamplesDropsOddByte(t *testing.T) {
	if got := PCMToSamples([]byte{0x01, 0x00, 0xff}); len(got) != 1 || got[0] != 1 {
		t.Fatalf("PCMToSamples = %v, want [1]", got)
	}
	if got := PCMToSamples([]byte{0x01}); got != nil {
		t.Fatalf("PCMToSamples(single byte) = %v, want nil", got)
	}
}

func TestRMSLevel(t *testing.T) {
	if got := RMSLevel(nil); got != 0 {
		t.Errorf("RMSLevel(nil) = %v", got)
	}
	full := make([]byte, 4)
	binary.LittleEndian.PutUint16(full[0:], uint16(0x8000)) // -32768
	binary.LittleEndian.PutUint16(full[2:], uint16(0x8000))
	if got := RMSLevel(full); math.Abs(got-1) > 1e-9 {
		t.Errorf("RMSLevel(full scale) = %v, want 1", got)
	}
}

func TestDataURI(t *testing.T) {
	got := DataURI("audio/wav", []byte("hi"))
	if got != "data:audio/wav;base64,aGk=" {
		t.Errorf("DataURI = %q", got)
	}
	if !strings.HasPrefix(DataURI("", nil), "data:application/octet-stream;base64,") {
		t.Error("expected octet-stream fallback")
	}
}
