package config

import (
	"fmt"
	"time"
)

const (
	BackendWhisper           = "whisper"
	BackendGoogleCloudSpeech = "google-cloud-speech"

	RequiredSampleRateHz = 16000
)

type Config struct {
	Env                        string
	Target                     string
	Port                       int
	ConnectTimeoutSec          int
	TranscriberBackend         string
	RecordProgram              string
	RecordDevice               string
	RecordSampleRateHz         int
	RecordSilenceSec           float64
	RecordThreshold            float64
	RecordEndOnSilence         bool
	RecordAudioType            string
	DatabaseURL                string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	TranscribeLanguage         string
	DiscordToken               string
	DiscordChannelID           string
	TranscriptWebhookURL       string
	TranscriptTimezone         string
}

func (c *Config) Validate() error {
	if c.RecordSampleRateHz != RequiredSampleRateHz {
		return fmt.Errorf("RECORD_SAMPLE_RATE must be %d, got %d", RequiredSampleRateHz, c.RecordSampleRateHz)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT_SEC must be positive, got %d", c.ConnectTimeoutSec)
	}
	if c.RecordSilenceSec < 0 {
		return fmt.Errorf("RECORD_SILENCE_SEC must not be negative, got %v", c.RecordSilenceSec)
	}
	if c.RecordProgram == "" {
		return fmt.Errorf("RECORD_PROGRAM is required")
	}
	switch c.TranscriberBackend {
	case BackendWhisper:
	case BackendGoogleCloudSpeech:
		for _, req := range c.cloudSpeechFieldChecks() {
			if req.value == "" {
				return fmt.Errorf("%s is required when TRANSCRIBER_BACKEND=%s", req.name, BackendGoogleCloudSpeech)
			}
		}
	default:
		return fmt.Errorf("TRANSCRIBER_BACKEND %q is not supported", c.TranscriberBackend)
	}
	if (c.DiscordToken == "") != (c.DiscordChannelID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_CHANNEL_ID must be set together")
	}
	if c.TranscriptTimezone == "" {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) cloudSpeechFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
		{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
		{name: "GOOGLE_CLOUD_SPEECH_LOCATION", value: c.GoogleCloudSpeechLocation},
		{name: "TRANSCRIBE_LANGUAGE", value: c.TranscribeLanguage},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TranscriptTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != "" && c.DiscordChannelID != ""
}
