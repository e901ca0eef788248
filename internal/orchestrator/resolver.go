package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kalambet/santaline/internal/gemini"
)

// ModelConfig overrides the candidate list for one capability.
type ModelConfig struct {
	// Preferred is tried first after any per-request hint.
	Preferred string
	// Whitelist is a comma-separated list of acceptable models, tried in order.
	Whitelist string
	// Defaults replaces the built-in known-good list when non-nil.
	Defaults []string
}

// ModelLister lists the models visible to the configured credential.
type ModelLister interface {
	ListModels(ctx context.Context) ([]gemini.Model, error)
}

// lastResort is used when configuration leaves a capability with nothing to try.
var lastResort = []Candidate{"gemini-1.5-flash"}

// Resolver turns configuration into ordered candidate lists.
type Resolver struct {
	models map[Capability]ModelConfig
	lister ModelLister
	logger *slog.Logger
}

// NewResolver creates a resolver. lister may be nil, which disables discovery.
func NewResolver(text, image, vision ModelConfig, lister ModelLister, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		models: map[Capability]ModelConfig{
			GenerateText:  text,
			GenerateImage: image,
			AnalyzeImage:  vision,
		},
		lister: lister,
		logger: logger,
	}
}

// Resolve returns hint, preferred, whitelist, then defaults, trimmed and
// deduplicated to first occurrence. The result is never empty.
func (r *Resolver) Resolve(c Capability, hint string) []Candidate {
	mc := r.models[c]

	var raw []string
	raw = append(raw, hint, mc.Preferred)
	raw = append(raw, strings.Split(mc.Whitelist, ",")...)
	if mc.Defaults != nil {
		raw = append(raw, mc.Defaults...)
	} else if d, ok := descriptors[c]; ok {
		for _, cand := range d.defaults {
			raw = append(raw, string(cand))
		}
	}

	out := dedupe(raw)
	if len(out) == 0 {
		if d, ok := descriptors[c]; ok && len(d.defaults) > 0 {
			return append([]Candidate(nil), d.defaults...)
		}
		return append([]Candidate(nil), lastResort...)
	}
	return out
}

// Discover asks the provider for models supporting generateContent and
// returns those not already tried, in provider order. Listing failures are
// logged and yield nil.
func (r *Resolver) Discover(ctx context.Context, tried []Candidate) []Candidate {
	if r.lister == nil {
		return nil
	}

	models, err := r.lister.ListModels(ctx)
	if err != nil {
		r.logger.Warn("model discovery failed", "error", err)
		return nil
	}

	seen := make(map[string]bool, len(tried))
	for _, c := range tried {
		seen[c.Model()] = true
	}

	var out []Candidate
	for _, m := range models {
		if !m.Supports(gemini.MethodGenerateContent) {
			continue
		}
		id := m.ID()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Candidate(id))
	}

	r.logger.Debug("model discovery", "found", len(out))
	return out
}

func dedupe(raw []string) []Candidate {
	seen := make(map[string]bool, len(raw))
	out := make([]Candidate, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimPrefix(strings.TrimSpace(s), "models/")
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, Candidate(s))
	}
	return out
}
