package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/livescribe/internal/config"
	"github.com/joho/godotenv"
)

const DefaultEnvFile = ".env"

type envConfig struct {
	Env                        string  `env:"ENV" envDefault:"production"`
	Target                     string  `env:"TARGET"`
	Port                       int     `env:"PORT" envDefault:"50051"`
	ConnectTimeoutSec          int     `env:"CONNECT_TIMEOUT_SEC" envDefault:"10"`
	TranscriberBackend         string  `env:"TRANSCRIBER_BACKEND" envDefault:"whisper"`
	RecordProgram              string  `env:"RECORD_PROGRAM" envDefault:"rec"`
	RecordDevice               string  `env:"RECORD_DEVICE"`
	RecordSampleRateHz         int     `env:"RECORD_SAMPLE_RATE" envDefault:"16000"`
	RecordSilenceSec           float64 `env:"RECORD_SILENCE_SEC" envDefault:"10.0"`
	RecordThreshold            float64 `env:"RECORD_THRESHOLD" envDefault:"0"`
	RecordEndOnSilence         bool    `env:"RECORD_END_ON_SILENCE" envDefault:"false"`
	RecordAudioType            string  `env:"RECORD_AUDIO_TYPE" envDefault:"raw"`
	DatabaseURL                string  `env:"DATABASE_URL"`
	GoogleCloudProjectID       string  `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string  `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string  `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string  `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
	TranscribeLanguage         string  `env:"TRANSCRIBE_LANGUAGE" envDefault:"en-US"`
	DiscordToken               string  `env:"DISCORD_TOKEN"`
	DiscordChannelID           string  `env:"DISCORD_CHANNEL_ID"`
	TranscriptWebhookURL       string  `env:"TRANSCRIPT_WEBHOOK_URL"`
	TranscriptTimezone         string  `env:"TRANSCRIPT_TIMEZONE" envDefault:"UTC"`
}

// Load reads envFile into the process environment when it exists, then parses
// and validates the configuration. Variables already set in the environment
// take precedence over the file.
func Load(envFile string) (*internalconfig.Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}
	return load(env.Options{})
}

func load(opts env.Options) (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		Target:                     raw.Target,
		Port:                       raw.Port,
		ConnectTimeoutSec:          raw.ConnectTimeoutSec,
		TranscriberBackend:         raw.TranscriberBackend,
		RecordProgram:              raw.RecordProgram,
		RecordDevice:               raw.RecordDevice,
		RecordSampleRateHz:         raw.RecordSampleRateHz,
		RecordSilenceSec:           raw.RecordSilenceSec,
		RecordThreshold:            raw.RecordThreshold,
		RecordEndOnSilence:         raw.RecordEndOnSilence,
		RecordAudioType:            raw.RecordAudioType,
		DatabaseURL:                raw.DatabaseURL,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		TranscribeLanguage:         raw.TranscribeLanguage,
		DiscordToken:               raw.DiscordToken,
		DiscordChannelID:           raw.DiscordChannelID,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		TranscriptTimezone:         raw.TranscriptTimezone,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
