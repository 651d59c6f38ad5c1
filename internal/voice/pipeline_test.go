package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soulink-ai/soulink/pkg/chatwire"
)

type fakeDevice struct {
	openErr error
	onFrame func([]int16)
	opens   int
	closes  int
	openNow bool
}

func (d *fakeDevice) Open(onFrame func([]int16)) error {
	d.opens++
	if d.openErr != nil {
		return d.openErr
	}
	d.onFrame = onFrame
	d.openNow = true
	return nil
}

func (d *fakeDevice) Close() error {
	d.closes++
	d.openNow = false
	return nil
}

func (d *fakeDevice) feed(samples []int16) {
	if d.onFrame != nil {
		d.onFrame(samples)
	}
}

type fakeUploader struct {
	gotCharacter string
	gotPayload   []byte
	deviceOpen   *bool // snapshot of the device state at upload time
	device       *fakeDevice
	reply        *chatwire.VoiceReply
	err          error
	gate         chan struct{} // if set, upload blocks until closed
}

func (u *fakeUploader) SendVoice(ctx context.Context, characterID string, wavData []byte) (*chatwire.VoiceReply, error) {
	u.gotCharacter = characterID
	u.gotPayload = wavData
	if u.device != nil {
		open := u.device.openNow
		u.deviceOpen = &open
	}
	if u.gate != nil {
		<-u.gate
	}
	if u.err != nil {
		return nil, u.err
	}
	return u.reply, nil
}

func newTestPipeline(dev *fakeDevice, up *fakeUploader) *Pipeline {
	up.device = dev
	return New(Config{
		Device:      dev,
		Uploader:    up,
		CharacterID: "7",
		SampleRate:  8000,
		Channels:    1,
	})
}

func TestPipelineHappyPath(t *testing.T) {
	dev := &fakeDevice{}
	up := &fakeUploader{reply: &chatwire.VoiceReply{Audio: []byte("riff"), TranscriptLabel: "(voice reply)"}}
	p := newTestPipeline(dev, up)

	if err := p.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if got := p.State(); got != StateRecording {
		t.Fatalf("state = %v, want recording", got)
	}
	dev.feed([]int16{1, 2, 3})
	dev.feed([]int16{4, 5})

	reply, err := p.StopCapture(context.Background())
	if err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	if reply == nil || string(reply.Audio) != "riff" {
		t.Fatalf("reply = %+v, want synthesized audio", reply)
	}
	if got := p.State(); got != StateIdle {
		t.Fatalf("state after stop = %v, want idle", got)
	}
	if up.gotCharacter != "7" {
		t.Errorf("uploaded character = %q, want 7", up.gotCharacter)
	}
	// 44-byte WAV header plus 5 samples of 16-bit mono PCM.
	if wantLen := 44 + 5*2; len(up.gotPayload) != wantLen {
		t.Errorf("payload length = %d, want %d", len(up.gotPayload), wantLen)
	}
	if up.deviceOpen == nil || *up.deviceOpen {
		t.Error("microphone still held during upload, want released before dispatch")
	}
	if dev.opens != 1 || dev.closes != 1 {
		t.Errorf("device opens/closes = %d/%d, want 1/1", dev.opens, dev.closes)
	}
}

func TestPipelineStartWhileRecording(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(dev, &fakeUploader{reply: &chatwire.VoiceReply{}})

	if err := p.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if err := p.StartCapture(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second StartCapture err = %v, want ErrInvalidState", err)
	}
	if dev.opens != 1 {
		t.Errorf("device opened %d times, want 1", dev.opens)
	}
}

func TestPipelineStartWhileUploading(t *testing.T) {
	dev := &fakeDevice{}
	up := &fakeUploader{reply: &chatwire.VoiceReply{}, gate: make(chan struct{})}
	p := newTestPipeline(dev, up)

	if err := p.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := p.StopCapture(context.Background()); err != nil {
			t.Errorf("StopCapture: %v", err)
		}
	}()
	waitForState(t, p, StateUploading)

	if err := p.StartCapture(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("StartCapture during upload err = %v, want ErrInvalidState", err)
	}
	if _, err := p.StopCapture(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("StopCapture during upload err = %v, want ErrInvalidState", err)
	}

	close(up.gate)
	<-done
	if got := p.State(); got != StateIdle {
		t.Errorf("state after upload = %v, want idle", got)
	}
}

func TestPipelineDeviceDenied(t *testing.T) {
	dev := &fakeDevice{openErr: errors.New("device busy")}
	p := newTestPipeline(dev, &fakeUploader{})

	err := p.StartCapture()
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("StartCapture err = %v, want ErrPermissionDenied", err)
	}
	if got := p.State(); got != StateIdle {
		t.Fatalf("state after denial = %v, want idle", got)
	}
	// A denied pipeline must remain usable once the device recovers.
	dev.openErr = nil
	if err := p.StartCapture(); err != nil {
		t.Fatalf("StartCapture after recovery: %v", err)
	}
}

func TestPipelineStopWhileIdle(t *testing.T) {
	p := newTestPipeline(&fakeDevice{}, &fakeUploader{})
	reply, err := p.StopCapture(context.Background())
	if reply != nil || err != nil {
		t.Fatalf("StopCapture while idle = (%v, %v), want (nil, nil)", reply, err)
	}
}

func TestPipelineUploadFailure(t *testing.T) {
	dev := &fakeDevice{}
	up := &fakeUploader{err: errors.New("503 from upstream")}
	p := newTestPipeline(dev, up)

	if err := p.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	dev.feed([]int16{9})
	reply, err := p.StopCapture(context.Background())
	if err == nil || reply != nil {
		t.Fatalf("StopCapture = (%v, %v), want upload error", reply, err)
	}
	if got := p.State(); got != StateIdle {
		t.Errorf("state after failed upload = %v, want idle", got)
	}
}

func TestPipelineAbortDuringRecording(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(dev, &fakeUploader{})

	if err := p.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	dev.feed([]int16{1, 2})
	p.Abort()

	if got := p.State(); got != StateIdle {
		t.Fatalf("state after abort = %v, want idle", got)
	}
	if dev.closes != 1 {
		t.Errorf("device closes = %d, want 1", dev.closes)
	}
	// The discarded session leaves no samples behind for the next one.
	if err := p.StartCapture(); err != nil {
		t.Fatalf("StartCapture after abort: %v", err)
	}
	if _, err := p.StopCapture(context.Background()); err != nil {
		t.Fatalf("StopCapture after abort: %v", err)
	}
}

func TestPipelineStaleUploadDoesNotClobberNewSession(t *testing.T) {
	dev := &fakeDevice{}
	up := &fakeUploader{reply: &chatwire.VoiceReply{}, gate: make(chan struct{})}
	p := newTestPipeline(dev, up)

	if err := p.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.StopCapture(context.Background())
	}()
	waitForState(t, p, StateUploading)

	p.Abort()
	if err := p.StartCapture(); err != nil {
		t.Fatalf("StartCapture after abort: %v", err)
	}

	close(up.gate)
	<-done
	if got := p.State(); got != StateRecording {
		t.Fatalf("state after stale upload returned = %v, want recording", got)
	}
}

func waitForState(t *testing.T, p *Pipeline, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("pipeline never reached state %v", want)
}
