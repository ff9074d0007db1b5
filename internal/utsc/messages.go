// ABOUTME: Messages streamed to a live-capture subscriber.
// ABOUTME: A Sink delivers them; the gateway's implementation writes websocket frames.

package utsc

// Stream message types.
const (
	MsgConnected         = "connected"
	MsgBuffering         = "buffering"
	MsgBufferingComplete = "buffering_complete"
	MsgSpectrum          = "spectrum"
	MsgHeartbeat         = "heartbeat"
	MsgComplete          = "complete"
	MsgError             = "error"
)

// RawData is the spectrum payload of a spectrum message.
type RawData struct {
	Frequencies  []float64 `json:"frequencies"`
	Amplitudes   []float64 `json:"amplitudes"`
	SpanHz       int64     `json:"span_hz"`
	CenterFreqHz int64     `json:"center_freq_hz"`
}

// StreamMessage is one frame sent to a subscriber. Fields not relevant to
// the message type are omitted.
type StreamMessage struct {
	Type       string  `json:"type"`
	Timestamp  float64 `json:"timestamp"`
	SessionID  string  `json:"session_id,omitempty"`
	MAC        string  `json:"mac_address,omitempty"`
	BufferSize int     `json:"buffer_size"`
	Target     int     `json:"target,omitempty"`
	Message    string  `json:"message,omitempty"`

	RefreshMs    int64    `json:"refresh_ms,omitempty"`
	DurationS    float64  `json:"duration_s,omitempty"`
	CenterFreqHz int64    `json:"center_freq_hz,omitempty"`
	SpanHz       int64    `json:"span_hz,omitempty"`
	NumBins      int      `json:"num_bins,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`

	Filename string   `json:"filename,omitempty"`
	RawData  *RawData `json:"raw_data,omitempty"`

	Elapsed     float64 `json:"elapsed,omitempty"`
	SamplesSent int     `json:"samples_sent,omitempty"`
	Triggers    int     `json:"triggers,omitempty"`
	Error       string  `json:"error,omitempty"`
	Fatal       *bool   `json:"fatal,omitempty"`
}

// Sink receives stream messages for one subscriber. Send is only called from
// the session's streamer goroutine.
type Sink interface {
	Send(msg StreamMessage) error
}

func boolPtr(b bool) *bool { return &b }
