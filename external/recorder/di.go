package recorder

import (
	"github.com/foxseedlab/livescribe/internal/capture"
	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (capture.Recorder, error) {
		return NewCommandRecorder(), nil
	})
	do.Provide(injector, func(i do.Injector) (capture.Options, error) {
		c := do.MustInvoke[*config.Config](i)
		return capture.Options{
			SampleRateHz:     c.RecordSampleRateHz,
			SilenceSeconds:   c.RecordSilenceSec,
			ThresholdPercent: c.RecordThreshold,
			EndOnSilence:     c.RecordEndOnSilence,
			Program:          c.RecordProgram,
			Device:           c.RecordDevice,
			AudioType:        c.RecordAudioType,
		}, nil
	})
}
