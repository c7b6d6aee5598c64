package audio

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Codec decodes audio files into buffers and encodes buffers back to disk.
type Codec interface {
	Decode(path string) (*Buffer, error)
	Encode(buf *Buffer, path, format, bitrate string) error
}

// FormatOf returns the container name implied by a file extension ("wav", "mp3", ...).
func FormatOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// FileCodec reads WAV and MP3 natively and falls back to FFmpeg for anything
// else. MP3 encoding always goes through FFmpeg.
type FileCodec struct {
	ffmpeg string
}

// NewFileCodec creates a codec that runs the given ffmpeg binary when needed.
func NewFileCodec(ffmpegPath string) *FileCodec {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FileCodec{ffmpeg: ffmpegPath}
}

// Decode reads path into a buffer.
func (c *FileCodec) Decode(path string) (*Buffer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, IOError(err, "read "+path)
	}

	var (
		buf *Buffer
		err error
	)
	switch FormatOf(path) {
	case "wav", "wave":
		buf, err = DecodeWAV(path)
	case "mp3":
		buf, err = DecodeMP3(path)
	default:
		err = Unsupported(fmt.Errorf("no native decoder for %q", FormatOf(path)), path)
	}
	if err == nil {
		return buf, nil
	}
	if IsKind(err, KindIO) {
		return nil, err
	}

	fallback, ffErr := DecodeFFmpeg(c.ffmpeg, path)
	if ffErr != nil {
		log.Printf("FFmpeg fallback failed for %s: %v", path, ffErr)
		return nil, err
	}
	return fallback, nil
}

// Encode writes buf to path as format ("wav" or "mp3"). bitrate only applies
// to lossy formats.
func (c *FileCodec) Encode(buf *Buffer, path, format, bitrate string) error {
	if format == "" {
		format = FormatOf(path)
	}
	switch strings.ToLower(format) {
	case "wav", "wave":
		return EncodeWAV(buf, path)
	case "mp3":
		return EncodeFFmpeg(c.ffmpeg, buf, path, "mp3", bitrate)
	default:
		return Unsupported(errors.New("cannot encode "+format), path)
	}
}
