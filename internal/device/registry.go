package device

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/config"
	"github.com/jmylchreest/codecconf/internal/media"
)

// Factory creates a fresh device instance.
type Factory func() codectest.Device

// Entry describes one registered device.
type Entry struct {
	Name    string
	Mime    string
	Encoder bool
	// Reorders is true when output presentation order may differ from
	// input order.
	Reorders bool
	New      Factory
}

// Kind returns "encoder" or "decoder".
func (e Entry) Kind() string {
	if e.Encoder {
		return "encoder"
	}
	return "decoder"
}

// Registry holds the devices available to a run.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds an entry. Names must be unique.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" || e.New == nil {
		return fmt.Errorf("registering device: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.Name]; ok {
		return fmt.Errorf("registering device %q: already registered", e.Name)
	}
	r.entries[e.Name] = e
	return nil
}

// Get returns the entry named name.
func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("device %q: %w", name, codectest.ErrNoDevice)
	}
	return e, nil
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Entries returns all entries sorted by name.
func (r *Registry) Entries() []Entry {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(names))
	for _, n := range names {
		out = append(out, r.entries[n])
	}
	return out
}

// Select returns every device handling mime in the requested direction,
// sorted by name.
func (r *Registry) Select(mime string, encoder bool) ([]Entry, error) {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Mime == mime && e.Encoder == encoder {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no %s for %q: %w", Entry{Encoder: encoder}.Kind(), mime, codectest.ErrNoDevice)
	}
	return out, nil
}

// OptionsFromConfig maps the device config section onto Options.
func OptionsFromConfig(cfg config.DeviceConfig, logger *slog.Logger) Options {
	return Options{
		InputSlots:    cfg.InputSlots,
		OutputSlots:   cfg.OutputSlots,
		MaxInputSize:  int(cfg.MaxInputSize),
		ReorderDepth:  cfg.ReorderDepth,
		FuseOutputEOS: cfg.FuseOutputEOS,
		Logger:        logger,
	}
}

type builtin struct {
	name    string
	mime    string
	encoder bool
	reorder bool
	avc     bool
}

var builtins = []builtin{
	{name: "sw.avc.decoder", mime: media.MimeVideoAVC, reorder: true, avc: true},
	{name: "sw.hevc.decoder", mime: media.MimeVideoHEVC, reorder: true},
	{name: "sw.aac.decoder", mime: media.MimeAudioAAC},
	{name: "sw.mp3.decoder", mime: media.MimeAudioMP3},
	{name: "sw.opus.decoder", mime: media.MimeAudioOpus},
	{name: "sw.pcm.passthrough", mime: media.MimeAudioRaw},
	{name: "sw.yuv.passthrough", mime: media.MimeVideoRaw},
	{name: "sw.avc.encoder", mime: media.MimeVideoAVC, encoder: true},
	{name: "sw.aac.encoder", mime: media.MimeAudioAAC, encoder: true},
}

// DefaultRegistry builds the software devices configured by cfg. A fresh
// registry is built per suite run.
func DefaultRegistry(cfg config.DeviceConfig, logger *slog.Logger) *Registry {
	base := OptionsFromConfig(cfg, logger)
	r := NewRegistry()
	for _, b := range builtins {
		opts := base
		opts.InspectAVC = b.avc
		if !b.reorder {
			opts.ReorderDepth = 0
		}
		mimes := []string{b.mime}
		name, encoder := b.name, b.encoder
		_ = r.Register(Entry{
			Name:     name,
			Mime:     b.mime,
			Encoder:  encoder,
			Reorders: opts.ReorderDepth > 0,
			New: func() codectest.Device {
				return NewSoftware(name, mimes, encoder, opts)
			},
		})
	}
	return r
}
