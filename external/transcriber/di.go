package transcriber

import (
	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*WhisperDialer, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewWhisperDialer(c.ConnectTimeout()), nil
	})
	do.Provide(injector, func(i do.Injector) (transcriber.HealthChecker, error) {
		return do.MustInvoke[*WhisperDialer](i), nil
	})
	do.Provide(injector, func(i do.Injector) (transcriber.Target, error) {
		c := do.MustInvoke[*config.Config](i)
		return transcriber.ResolveTarget(c.Target, c.Port), nil
	})
	do.Provide(injector, func(i do.Injector) (transcriber.Dialer, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.TranscriberBackend == config.BackendGoogleCloudSpeech {
			return NewCloudSpeechDialer(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Language:        c.TranscribeLanguage,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
			}), nil
		}
		return do.MustInvoke[*WhisperDialer](i), nil
	})
}
