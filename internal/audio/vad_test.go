package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmSine(sr int, hz float64, durMs int) []byte {
	n := sr * durMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*hz*float64(i)/float64(sr)))
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	return out
}

func pcmSilence(sr, durMs int) []byte {
	return make([]byte, sr*durMs/1000*2)
}

func TestEnergyVAD_DistinguishesSpeechFromSilence(t *testing.T) {
	v := newEnergyVAD()
	for i, f := range splitFrames(pcmSilence(16000, 100), 16000) {
		if v.isSpeech(f) {
			t.Fatalf("silence frame %d flagged as speech", i)
		}
	}
	voiced := 0
	frames := splitFrames(pcmSine(16000, 220, 100), 16000)
	for _, f := range frames {
		if v.isSpeech(f) {
			voiced++
		}
	}
	if voiced < len(frames)-1 {
		t.Fatalf("only %d/%d sine frames flagged as speech", voiced, len(frames))
	}
}

func TestSplitFrames_DropsPartialTail(t *testing.T) {
	// 25ms yields two full 10ms frames; the 5ms remainder is dropped.
	frames := splitFrames(pcmSilence(16000, 25), 16000)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if len(frames[0]) != 160 {
		t.Fatalf("frame length %d, want 160", len(frames[0]))
	}
}

func TestRingPCM_KeepsLastWindow(t *testing.T) {
	r := newRingPCM(100, 16000)
	// Fill beyond capacity; only the newest 100ms must remain.
	for i := 0; i < 30; i++ {
		frame := make(Frame, 160)
		for j := range frame {
			frame[j] = int16(i)
		}
		r.Write(frame)
	}
	got := r.ReadLastMs(100)
	if len(got) != 1600 {
		t.Fatalf("got %d samples, want 1600", len(got))
	}
	if got[0] != 20 || got[len(got)-1] != 29 {
		t.Fatalf("window edges = %d..%d, want 20..29", got[0], got[len(got)-1])
	}
}
