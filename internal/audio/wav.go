package audio

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV reads an integer PCM WAV file.
func DecodeWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, IOError(err, "open "+path)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, Unsupported(errors.New("invalid WAV header"), path)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Unsupported(fmt.Errorf("read WAV PCM: %w", err), path)
	}

	format := Format{
		SampleRate:  int(dec.SampleRate),
		Channels:    int(dec.NumChans),
		SampleWidth: int(dec.BitDepth) / 8,
	}
	if err := format.Validate(); err != nil {
		return nil, Unsupported(err, path)
	}

	samples := make([]int32, len(pcm.Data))
	for i, v := range pcm.Data {
		if format.SampleWidth == 1 {
			// 8-bit WAV is unsigned on disk
			v -= 128
		}
		samples[i] = int32(v)
	}
	// Drop a trailing partial frame rather than rejecting the file.
	if extra := len(samples) % format.Channels; extra != 0 {
		samples = samples[:len(samples)-extra]
	}
	return NewBuffer(format, samples)
}

// EncodeWAV writes buf as an integer PCM WAV file.
func EncodeWAV(buf *Buffer, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return IOError(err, "create "+path)
	}

	format := buf.Format()
	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth(), format.Channels, 1)

	data := make([]int, len(buf.Samples()))
	for i, s := range buf.Samples() {
		v := int(s)
		if format.SampleWidth == 1 {
			v += 128
		}
		data[i] = v
	}
	pcm := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           data,
		SourceBitDepth: format.BitDepth(),
	}

	if err := enc.Write(pcm); err != nil {
		f.Close()
		return IOError(err, "write "+path)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return IOError(err, "finalize "+path)
	}
	if err := f.Close(); err != nil {
		return IOError(err, "close "+path)
	}
	return nil
}
