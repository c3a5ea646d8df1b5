package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// Frame is a 10ms mono PCM frame at the detector's sample rate.
// For 16kHz mono this is 160 samples of int16.
type Frame []int16

// energyVAD flags frames whose smoothed RMS energy crosses a threshold.
type energyVAD struct {
	threshold float64
	smoothN   int
	win       []bool
}

func newEnergyVAD() *energyVAD { return &energyVAD{threshold: 300.0, smoothN: 4} }

func (v *energyVAD) isSpeech(frame Frame) bool {
	if len(frame) == 0 {
		return false
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	b := rms >= v.threshold
	v.win = append(v.win, b)
	if len(v.win) > v.smoothN {
		v.win = v.win[len(v.win)-v.smoothN:]
	}
	trueCount := 0
	for _, x := range v.win {
		if x {
			trueCount++
		}
	}
	return trueCount*2 >= len(v.win)
}

// ringPCM stores 16-bit PCM samples for the capture pre-roll.
type ringPCM struct {
	mu       sync.Mutex
	buf      []int16
	cap      int
	writePos int
	sr       int
}

func newRingPCM(capacityMs, sampleRate int) *ringPCM {
	samples := capacityMs * sampleRate / 1000
	if samples < sampleRate/10 {
		samples = sampleRate / 10
	}
	return &ringPCM{buf: make([]int16, samples), cap: samples, sr: sampleRate}
}

func (r *ringPCM) Write(frame Frame) {
	r.mu.Lock()
	for _, s := range frame {
		r.buf[r.writePos] = s
		r.writePos = (r.writePos + 1) % r.cap
	}
	r.mu.Unlock()
}

func (r *ringPCM) ReadLastMs(ms int) []int16 {
	r.mu.Lock()
	n := ms * r.sr / 1000
	if n > r.cap {
		n = r.cap
	}
	out := make([]int16, n)
	start := (r.writePos - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%r.cap]
	}
	r.mu.Unlock()
	return out
}

// splitFrames segments raw PCM16LE into 10ms frames at the given rate.
// A trailing partial frame is dropped.
func splitFrames(pcm []byte, sampleRate int) []Frame {
	samplesPer10ms := sampleRate / 100
	var frames []Frame
	for off := 0; off+samplesPer10ms*2 <= len(pcm); off += samplesPer10ms * 2 {
		frame := make(Frame, samplesPer10ms)
		for i := 0; i < samplesPer10ms; i++ {
			frame[i] = int16(binary.LittleEndian.Uint16(pcm[off+i*2 : off+i*2+2]))
		}
		frames = append(frames, frame)
	}
	return frames
}

func frameBytes(frame Frame) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(s))
	}
	return out
}
