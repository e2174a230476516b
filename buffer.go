package pipeline

import "time"

// Buffer is a unit of media data that flows through links.
type Buffer struct {
	Data []byte
	// PTS is the presentation timestamp of the buffer.
	PTS      time.Duration
	Duration time.Duration
	// Offset is the sequence number of the buffer in its stream.
	Offset int64
}

// Size returns the payload size in bytes.
func (b Buffer) Size() int64 {
	return int64(len(b.Data))
}

// packet is the item carried by pad queues. It holds either a buffer or
// an end-of-stream event.
type packet struct {
	buf Buffer
	eos bool
}
