package tts

// FrameSize is the outbound media chunk size the telephony playback
// protocol expects: 20ms of 8kHz 8-bit mu-law audio.
const FrameSize = 160

// Frames slices synthesized audio into fixed-size chunks. The final
// frame carries whatever remains and may be short; the audio bytes are
// passed through untouched.
func Frames(audio []byte) [][]byte {
	return FramesOf(audio, FrameSize)
}

// FramesOf slices audio into chunks of the given size.
func FramesOf(audio []byte, size int) [][]byte {
	if size <= 0 || len(audio) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(audio)+size-1)/size)
	for off := 0; off < len(audio); off += size {
		end := off + size
		if end > len(audio) {
			end = len(audio)
		}
		frames = append(frames, audio[off:end])
	}
	return frames
}
