package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"google.golang.org/api/option"
)

const (
	speechAPIEndpointPort = 443
	audioSampleRateHertz  = 16000
	audioChannelCount     = 1
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// CloudSpeechDialer streams to Google Cloud Speech-to-Text v2 instead of the
// hosted whisper service. The connection target is implied by Location.
type CloudSpeechDialer struct {
	projectID       string
	credentialsJSON string
	language        string
	location        string
	model           string
}

func NewCloudSpeechDialer(cfg CloudSpeechConfig) *CloudSpeechDialer {
	return &CloudSpeechDialer{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		language:        cfg.Language,
		location:        strings.TrimSpace(cfg.Location),
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (d *CloudSpeechDialer) Open(ctx context.Context, _ transcriber.Target) (transcriber.Stream, error) {
	slog.Info("starting cloud speech streaming", "location", d.location, "language", d.language, "model", d.model)

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(d.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: detect credentials: %v", transcriber.ErrConnection, err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if d.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", d.location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transcriber.ErrConnection, err)
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", transcriber.ErrConnection, err)
	}

	if err := stream.Send(d.configRequest()); err != nil {
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("%w: send streaming config: %v", transcriber.ErrConnection, err)
	}
	slog.Info("cloud speech stream initialized")

	return &cloudSpeechStream{
		stream: stream,
		closeFn: func() error {
			cancel()
			return client.Close()
		},
	}, nil
}

func (d *CloudSpeechDialer) configRequest() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", d.projectID, d.location),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         d.model,
					LanguageCodes: []string{d.language},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   audioSampleRateHertz,
							AudioChannelCount: audioChannelCount,
						},
					},
					Features: &speechpb.RecognitionFeatures{},
				},
			},
		},
	}
}

type cloudSpeechStream struct {
	stream  speechpb.Speech_StreamingRecognizeClient
	closeFn func() error

	// pending and lastEnd are only touched by the Recv goroutine.
	pending []transcriber.Segment
	lastEnd float64

	closeOnce sync.Once
	closeErr  error
}

func (s *cloudSpeechStream) Send(frame []byte) error {
	err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: frame,
		},
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", transcriber.ErrStreamClosed, err)
	}
	return fmt.Errorf("%w: send: %w", transcriber.ErrTransportFault, err)
}

func (s *cloudSpeechStream) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *cloudSpeechStream) Recv() (transcriber.Segment, error) {
	for len(s.pending) == 0 {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return transcriber.Segment{}, io.EOF
			}
			return transcriber.Segment{}, fmt.Errorf("%w: receive: %w", transcriber.ErrTransportFault, err)
		}
		s.pending, s.lastEnd = segmentsFromResponse(resp, s.lastEnd)
	}
	seg := s.pending[0]
	s.pending = s.pending[1:]
	return seg, nil
}

func (s *cloudSpeechStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.closeFn()
	})
	return s.closeErr
}

// segmentsFromResponse keeps final results only. Each segment starts where the
// previous final result ended.
func segmentsFromResponse(resp *speechpb.StreamingRecognizeResponse, lastEnd float64) ([]transcriber.Segment, float64) {
	var out []transcriber.Segment
	for _, result := range resp.GetResults() {
		if !result.GetIsFinal() || len(result.GetAlternatives()) == 0 {
			continue
		}
		end := lastEnd
		if offset := result.GetResultEndOffset(); offset != nil {
			end = offset.AsDuration().Seconds()
		}
		if end < lastEnd {
			end = lastEnd
		}
		out = append(out, transcriber.Segment{
			Text:        result.GetAlternatives()[0].GetTranscript(),
			StartOffset: lastEnd,
			EndOffset:   end,
		})
		lastEnd = end
	}
	return out, lastEnd
}
