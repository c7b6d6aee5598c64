package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 file. go-mp3 always yields 16-bit stereo.
func DecodeMP3(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, IOError(err, "open "+path)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, Unsupported(fmt.Errorf("mp3 header: %w", err), path)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, Unsupported(fmt.Errorf("mp3 frames: %w", err), path)
	}

	// 4 bytes per stereo frame
	raw = raw[:len(raw)-len(raw)%4]
	samples := make([]int32, len(raw)/2)
	for i := range samples {
		samples[i] = int32(int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2])))
	}
	return NewBuffer(Format{SampleRate: dec.SampleRate(), Channels: 2, SampleWidth: 2}, samples)
}
