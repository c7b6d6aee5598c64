package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DecodeFFmpeg runs FFmpeg to decode any container it understands into
// 16-bit stereo PCM at CanonicalRate.
func DecodeFFmpeg(ffmpeg, path string) (*Buffer, error) {
	cmd := exec.Command(ffmpeg,
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(CanonicalRate),
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, Unsupported(fmt.Errorf("ffmpeg decode %s: %w", path, err), path)
	}

	// Ensure whole stereo frames
	out = out[:len(out)-len(out)%4]

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}
	return FromInt16s(CanonicalRate, 2, samples)
}

// EncodeFFmpeg pipes buf as raw PCM into FFmpeg and writes path in the given
// container. Lossy formats use bitrate (e.g. "320k").
func EncodeFFmpeg(ffmpeg string, buf *Buffer, path, format, bitrate string) error {
	args := []string{
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(buf.SampleRate()),
		"-ac", strconv.Itoa(buf.Channels()),
		"-i", "pipe:0",
	}
	switch format {
	case "mp3":
		args = append(args, "-codec:a", "libmp3lame")
		if bitrate != "" {
			args = append(args, "-b:a", bitrate)
		}
	}
	args = append(args, "-f", format, "-loglevel", "error", path)

	cmd := exec.Command(ffmpeg, args...)
	cmd.Stdin = bytes.NewReader(SamplesToBytes(buf.Int16s()))
	if out, err := cmd.CombinedOutput(); err != nil {
		return IOError(fmt.Errorf("ffmpeg encode %s: %w: %s", path, err, strings.TrimSpace(string(out))), "write "+path)
	}
	return nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
