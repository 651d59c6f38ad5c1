package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// ErrDeviceBusy is returned when Open is called on a microphone that is
// already held.
var ErrDeviceBusy = errors.New("audio: input device already open")

// MicrophoneConfig configures a [Microphone]. Zero values select the default
// input device at [DefaultSampleRate], mono.
type MicrophoneConfig struct {
	// DeviceID selects a specific input device by PortAudio index; 0 uses
	// the system default.
	DeviceID int

	SampleRate int
	Channels   int
}

// Microphone is the PortAudio-backed [InputDevice]. One Microphone owns at
// most one open stream at a time.
type Microphone struct {
	cfg MicrophoneConfig

	mu     sync.Mutex
	stream *portaudio.Stream
}

// NewMicrophone creates a Microphone. The device is not acquired until Open.
func NewMicrophone(cfg MicrophoneConfig) *Microphone {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	return &Microphone{cfg: cfg}
}

// Open acquires the microphone and starts the capture stream. The samples
// slice passed to onFrame is owned by the callee; it is copied out of the
// PortAudio buffer before delivery.
func (m *Microphone) Open(onFrame func(samples []int16)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return ErrDeviceBusy
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("audio: initialize: %w", err)
	}

	params, err := m.inputParams()
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		frame := make([]int16, len(in))
		copy(frame, in)
		onFrame(frame)
	})
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("audio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("audio: start stream: %w", err)
	}

	m.stream = stream
	return nil
}

// Close stops the capture stream and releases the device immediately.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}
	stopErr := m.stream.Stop()
	closeErr := m.stream.Close()
	termErr := portaudio.Terminate()
	m.stream = nil
	return errors.Join(stopErr, closeErr, termErr)
}

func (m *Microphone) inputParams() (portaudio.StreamParameters, error) {
	var zero portaudio.StreamParameters

	if m.cfg.DeviceID > 0 {
		devices, err := portaudio.Devices()
		if err != nil {
			return zero, fmt.Errorf("audio: list devices: %w", err)
		}
		if m.cfg.DeviceID >= len(devices) {
			return zero, fmt.Errorf("audio: invalid device id %d", m.cfg.DeviceID)
		}
		device := devices[m.cfg.DeviceID]
		if device.MaxInputChannels == 0 {
			return zero, fmt.Errorf("audio: device %d (%s) has no inputs", m.cfg.DeviceID, device.Name)
		}
		return portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   device,
				Channels: m.cfg.Channels,
				Latency:  device.DefaultLowInputLatency,
			},
			SampleRate:      float64(m.cfg.SampleRate),
			FramesPerBuffer: framesPerBuffer,
		}, nil
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return zero, fmt.Errorf("audio: default input device: %w", err)
	}
	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: m.cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(m.cfg.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, nil
}

// InputDeviceInfo describes a capture device. ID is the PortAudio index
// accepted by [MicrophoneConfig.DeviceID].
type InputDeviceInfo struct {
	ID         int
	Name       string
	Channels   int
	SampleRate float64
}

func (d InputDeviceInfo) String() string {
	return fmt.Sprintf("[%d] %s (%d ch, %.0f Hz)", d.ID, d.Name, d.Channels, d.SampleRate)
}

// ListInputDevices returns the available audio input devices, for the
// front end's device-selection flag.
func ListInputDevices() ([]InputDeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audio: list devices: %w", err)
	}

	inputs := make([]InputDeviceInfo, 0, len(devices))
	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, InputDeviceInfo{
				ID:         i,
				Name:       d.Name,
				Channels:   d.MaxInputChannels,
				SampleRate: d.DefaultSampleRate,
			})
		}
	}
	return inputs, nil
}
