package webhook

import "context"

const TranscriptWebhookSchemaVersion = "2026-10-01"

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}

type TranscriptWebhookPayload struct {
	SchemaVersion      string                     `json:"schema_version"`
	SessionID          string                     `json:"session_id"`
	Target             string                     `json:"target"`
	Backend            string                     `json:"backend"`
	StartAt            string                     `json:"start_at"`
	EndAt              string                     `json:"end_at"`
	Timezone           string                     `json:"timezone"`
	DurationSeconds    int64                      `json:"duration_seconds"`
	StopReason         string                     `json:"stop_reason"`
	SegmentCount       int                        `json:"segment_count"`
	TranscriptSegments []TranscriptWebhookSegment `json:"transcript_segments"`
	Transcript         string                     `json:"transcript"`
}

type TranscriptWebhookSegment struct {
	Index       int     `json:"index"`
	StartOffset float64 `json:"start_offset_seconds"`
	EndOffset   float64 `json:"end_offset_seconds"`
	ReceivedAt  string  `json:"received_at"`
	Transcript  string  `json:"transcript"`
}
