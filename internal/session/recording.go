package session

import (
	"time"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/spectral"
)

// Recording is the finalized output of a session: the encoded container and
// the spectral result of the most recent non-silent detection.
type Recording struct {
	ID       string       `json:"id"`
	StreamID uint32       `json:"stream_id"`
	Format   audio.Format `json:"format"`
	WAV      []byte       `json:"-"`

	Samples       int           `json:"samples"`
	Blocks        uint64        `json:"blocks"`
	DroppedBlocks uint64        `json:"dropped_blocks"`
	Duration      time.Duration `json:"duration"`

	Activations    uint64           `json:"activations"`
	TonalAnomalies uint64           `json:"tonal_anomalies"`
	Spectral       *spectral.Result `json:"spectral,omitempty"`
	Tonal          bool             `json:"tonal"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Size returns the encoded container size in bytes
func (r *Recording) Size() int {
	return len(r.WAV)
}

// audioDuration converts an interleaved sample count into playback time
func audioDuration(samples int, f audio.Format) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := samples / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}
