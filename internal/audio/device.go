package audio

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// ExecCaptureDevice reads raw PCM from a recorder subprocess (arecord by
// default). Each Open starts a fresh process; Close terminates it.
type ExecCaptureDevice struct {
	command    string
	sampleRate int
}

// NewExecCaptureDevice builds a capture device for the given recorder
// binary; empty command selects arecord.
func NewExecCaptureDevice(command string, sampleRate int) *ExecCaptureDevice {
	if command == "" {
		command = "arecord"
	}
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &ExecCaptureDevice{command: command, sampleRate: sampleRate}
}

func (d *ExecCaptureDevice) SampleRate() int { return d.sampleRate }

// Open starts the recorder and returns its stdout as a PCM stream.
func (d *ExecCaptureDevice) Open() (io.ReadCloser, error) {
	cmd := exec.Command(d.command,
		"-q", "-f", "S16_LE", "-c", "1", "-r", strconv.Itoa(d.sampleRate), "-t", "raw")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start %s: %w", d.command, err)
	}
	return &procStream{r: stdout, cmd: cmd}, nil
}

// ExecPlaybackDevice writes raw PCM to a player subprocess (aplay by
// default).
type ExecPlaybackDevice struct {
	command    string
	sampleRate int
}

// NewExecPlaybackDevice builds a playback device for the given player
// binary; empty command selects aplay.
func NewExecPlaybackDevice(command string, sampleRate int) *ExecPlaybackDevice {
	if command == "" {
		command = "aplay"
	}
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &ExecPlaybackDevice{command: command, sampleRate: sampleRate}
}

func (d *ExecPlaybackDevice) SampleRate() int { return d.sampleRate }

// Open starts the player and returns its stdin as a PCM sink.
func (d *ExecPlaybackDevice) Open() (io.WriteCloser, error) {
	cmd := exec.Command(d.command,
		"-q", "-f", "S16_LE", "-c", "1", "-r", strconv.Itoa(d.sampleRate), "-t", "raw")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: playback pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start %s: %w", d.command, err)
	}
	return &procSink{w: stdin, cmd: cmd}, nil
}

type procStream struct {
	r   io.ReadCloser
	cmd *exec.Cmd
}

func (p *procStream) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *procStream) Close() error {
	_ = p.r.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}

type procSink struct {
	w   io.WriteCloser
	cmd *exec.Cmd
}

func (p *procSink) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *procSink) Close() error {
	_ = p.w.Close()
	return p.cmd.Wait()
}
