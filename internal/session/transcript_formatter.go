package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

type transcriptMeta struct {
	SessionID  string
	Target     string
	Backend    string
	StartedAt  time.Time
	EndedAt    time.Time
	Timezone   string
	Location   *time.Location
	StopReason string
}

func buildTranscriptText(meta transcriptMeta, segments []repository.TranscriptSegment) []byte {
	loc := safeLocation(meta.Location)
	startText := meta.StartedAt.In(loc).Format(transcriptTimeLayout)
	endText := meta.EndedAt.In(loc).Format(transcriptTimeLayout)

	lines := []string{
		fmt.Sprintf("Session: %s", meta.SessionID),
		fmt.Sprintf("Target: %s (%s)", meta.Target, meta.Backend),
		fmt.Sprintf("Period: %s ~ %s (%s)", startText, endText, meta.Timezone),
		fmt.Sprintf("Stop reason: %s", meta.StopReason),
		"",
	}
	for _, seg := range segments {
		elapsed := seg.ReceivedAt.Sub(meta.StartedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, fmt.Sprintf("%s %s", formatElapsedHMS(elapsed), seg.Content))
	}
	return []byte(strings.Join(lines, "\n"))
}

func buildTranscriptWebhookPayload(meta transcriptMeta, segments []repository.TranscriptSegment) webhook.TranscriptWebhookPayload {
	loc := safeLocation(meta.Location)
	lines := make([]string, 0, len(segments))
	out := make([]webhook.TranscriptWebhookSegment, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, seg.Content)
		out = append(out, webhook.TranscriptWebhookSegment{
			Index:       seg.SegmentIndex,
			StartOffset: seg.StartOffset,
			EndOffset:   seg.EndOffset,
			ReceivedAt:  seg.ReceivedAt.In(loc).Format(time.RFC3339),
			Transcript:  seg.Content,
		})
	}

	durationSeconds := int64(meta.EndedAt.Sub(meta.StartedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	return webhook.TranscriptWebhookPayload{
		SchemaVersion:      webhook.TranscriptWebhookSchemaVersion,
		SessionID:          meta.SessionID,
		Target:             meta.Target,
		Backend:            meta.Backend,
		StartAt:            meta.StartedAt.In(loc).Format(time.RFC3339),
		EndAt:              meta.EndedAt.In(loc).Format(time.RFC3339),
		Timezone:           meta.Timezone,
		DurationSeconds:    durationSeconds,
		StopReason:         meta.StopReason,
		SegmentCount:       len(segments),
		TranscriptSegments: out,
		Transcript:         strings.Join(lines, "\n"),
	}
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
