package session

import (
	"os"

	"github.com/foxseedlab/livescribe/internal/capture"
	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/discord"
	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"github.com/foxseedlab/livescribe/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		rec := do.MustInvoke[capture.Recorder](i)
		captureOpts := do.MustInvoke[capture.Options](i)
		dialer := do.MustInvoke[transcriber.Dialer](i)
		target := do.MustInvoke[transcriber.Target](i)
		repo := do.MustInvoke[repository.Repository](i)
		dc := do.MustInvoke[discord.Client](i)
		wh := do.MustInvoke[webhook.Sender](i)
		return NewManager(cfg, rec, captureOpts, dialer, target, repo, dc, wh, os.Stdout), nil
	})
}
