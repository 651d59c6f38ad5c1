package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gordonklaus/portaudio"
	wav "github.com/youpy/go-wav"
)

// SpeakerPlayer is the PortAudio-backed [Player]. It opens the default
// output device for each playback and releases it when the playback ends.
type SpeakerPlayer struct{}

// Play decodes wavData and starts playback on the default output device.
// The returned [Playback] must be either stopped or allowed to finish before
// a new one is started; the output device is held until Done is closed.
func (SpeakerPlayer) Play(wavData []byte) (Playback, error) {
	reader := wav.NewReader(bytes.NewReader(wavData))
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("audio: parse wav: %w", err)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: initialize: %w", err)
	}

	pb := &speakerPlayback{
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		done:     make(chan struct{}),
	}

	channels := int(format.NumChannels)
	stream, err := portaudio.OpenDefaultStream(
		0,
		channels,
		float64(format.SampleRate),
		framesPerBuffer,
		func(out []int16) {
			// out holds interleaved frames, one value per channel.
			samples, err := reader.ReadSamples(uint32(len(out) / channels))
			if err != nil { // io.EOF or a malformed tail: either way, playback is over
				for i := range out {
					out[i] = 0
				}
				pb.finishOnce.Do(func() { close(pb.finished) })
				return
			}
			fillInterleaved(out, samples, channels)
		},
	)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audio: start output stream: %w", err)
	}

	go func() {
		select {
		case <-pb.stop:
		case <-pb.finished:
		}
		_ = stream.Stop()
		_ = stream.Close()
		_ = portaudio.Terminate()
		close(pb.done)
	}()

	return pb, nil
}

// fillInterleaved copies decoded samples into the interleaved output buffer,
// one value per channel per frame, and zero-fills any remainder.
func fillInterleaved(out []int16, samples []wav.Sample, channels int) {
	n := 0
	for _, s := range samples {
		for c := 0; c < channels && n < len(out); c++ {
			out[n] = int16(s.Values[c])
			n++
		}
	}
	for ; n < len(out); n++ {
		out[n] = 0
	}
}

type speakerPlayback struct {
	stop       chan struct{}
	finished   chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	finishOnce sync.Once
}

func (p *speakerPlayback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *speakerPlayback) Done() <-chan struct{} { return p.done }

// PlayFile plays a WAV file to completion on the default output device.
// Used by the front end's -play utility flag.
func PlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("audio: read %q: %w", path, err)
	}
	pb, err := SpeakerPlayer{}.Play(data)
	if err != nil {
		return err
	}
	<-pb.Done()
	return nil
}
