package metrics

import (
	"github.com/foxseedlab/rokuon/internal/config"
	"github.com/foxseedlab/rokuon/internal/metrics"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Exporter, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewExporter(c.MetricsAddr)
	})
	do.Provide(injector, func(i do.Injector) (*metrics.Metrics, error) {
		return do.MustInvoke[*Exporter](i).Metrics(), nil
	})
}
