package instrument

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/san-kum/pastis/internal/config"
	"github.com/san-kum/pastis/internal/pastis"
)

// LUVOIR-A apodized coronagraph designs.
var LuvoirDesigns = map[string]Design{
	"small":  {IWA: 3.4, OWA: 12},
	"medium": {IWA: 6.7, OWA: 23.7},
	"large":  {IWA: 13.4, OWA: 46.7},
}

var HexDesigns = map[string]Design{
	"small": {IWA: 3.4, OWA: 12},
}

type Registry struct {
	instruments map[string]func(*config.Config, *slog.Logger) (pastis.Instrument, error)
	designs     map[string]map[string]Design
}

func NewRegistry() *Registry {
	r := &Registry{
		instruments: make(map[string]func(*config.Config, *slog.Logger) (pastis.Instrument, error)),
		designs:     make(map[string]map[string]Design),
	}

	r.register("luvoir", LuvoirDesigns)
	r.register("hex", HexDesigns)

	return r
}

func (r *Registry) register(name string, designs map[string]Design) {
	r.designs[name] = designs
	r.instruments[name] = func(cfg *config.Config, logger *slog.Logger) (pastis.Instrument, error) {
		return NewSegmented(name, designs, cfg, logger)
	}
}

// Get builds the instrument named by cfg.Instrument.
func (r *Registry) Get(cfg *config.Config, logger *slog.Logger) (pastis.Instrument, error) {
	fn, ok := r.instruments[cfg.Instrument]
	if !ok {
		return nil, fmt.Errorf("unknown instrument: %s", cfg.Instrument)
	}
	return fn(cfg, logger)
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.instruments))
	for name := range r.instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Designs(instrument string) map[string]Design {
	return r.designs[instrument]
}
