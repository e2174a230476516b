package element

import (
	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/property"
)

// NewPlayBin returns bin that decodes uri and renders its audio and
// video streams. Streams are linked to the renderers when decoder
// announces them. Properties are forwarded to the nested elements.
func NewPlayBin(name string) *pipeline.Bin {
	props := property.NewSet(uriSpec, syncSpec)
	b := pipeline.NewBin(name, "playbin", props)

	var (
		decoder       = NewURIDecodeBin("decoder")
		audioConvert  = NewAudioConvert("audioconvert")
		audioResample = NewAudioResample("audioresample")
		audioSink     = NewAutoAudioSink("audiosink")
		videoConvert  = NewVideoConvert("videoconvert")
		videoSink     = NewAutoVideoSink("videosink")
	)
	// nested elements are new and have unique names, so errors are not
	// possible here.
	_ = b.Add(decoder, audioConvert, audioResample, audioSink, videoConvert, videoSink)
	_ = b.Link(audioConvert, audioResample, audioSink)
	_ = b.Link(videoConvert, videoSink)
	_ = b.LinkDynamic(decoder, audioConvert.Pad("sink"), rawAudio)
	_ = b.LinkDynamic(decoder, videoConvert.Pad("sink"), rawVideo)

	props.Observe(func(name string, value interface{}) {
		switch name {
		case "uri":
			_ = decoder.SetProperty("uri", value)
		case "sync":
			_ = audioSink.SetProperty("sync", value)
			_ = videoSink.SetProperty("sync", value)
		}
	})
	return b
}
