package dsp

import (
	"voicegate-server-go/internal/audio"
)

// FormatConditioner is the terminal chain stage normalizing whatever
// layout the transport delivered into the pipeline's canonical PCM
// format, so everything downstream of the chain reads one format only.
type FormatConditioner struct {
	converter *audio.Converter
}

func NewFormatConditioner(converter *audio.Converter) *FormatConditioner {
	return &FormatConditioner{converter: converter}
}

func (fc *FormatConditioner) Name() string { return "format_conversion" }

func (fc *FormatConditioner) Process(chunk *audio.Chunk) (*audio.Chunk, error) {
	return fc.converter.Convert(chunk)
}

func (fc *FormatConditioner) Reset()   {}
func (fc *FormatConditioner) Destroy() {}
