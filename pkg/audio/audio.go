// Package audio provides the capture and playback primitives for the voice
// pipeline: an exclusive microphone handle, WAV payload assembly for
// uploads, and playback of synthesized WAV replies.
//
// Device access is abstracted behind [InputDevice] and [Player] so that the
// pipeline and engine can be exercised in tests without real hardware; the
// PortAudio-backed implementations live in this package as well.
package audio

const (
	// DefaultSampleRate is the capture rate in Hz.
	DefaultSampleRate = 44100

	// DefaultChannels is mono capture, which is what the voice exchange expects.
	DefaultChannels = 1

	// framesPerBuffer is the PortAudio buffer size in frames.
	framesPerBuffer = 1024

	bitsPerSample = 16
)

// InputDevice is an exclusive microphone handle. Between a successful Open
// and the matching Close the device is held by exactly one owner; Open on a
// busy or unavailable device fails.
type InputDevice interface {
	// Open acquires the device and starts delivering PCM frames to onFrame.
	// onFrame is called from the device's capture goroutine; it must not
	// block and must copy the slice if it retains it beyond the call.
	Open(onFrame func(samples []int16)) error

	// Close stops frame delivery and releases the device. Closing a device
	// that is not open is a no-op.
	Close() error
}

// Playback is a handle to one in-flight playback. Exactly one of Stop or
// natural completion ends it; Done is closed in both cases after the output
// device has been released.
type Playback interface {
	// Stop aborts playback. Safe to call multiple times and after completion.
	Stop()

	// Done is closed when playback has ended and the device is released.
	Done() <-chan struct{}
}

// Player starts playback of a WAV payload.
type Player interface {
	Play(wavData []byte) (Playback, error)
}
