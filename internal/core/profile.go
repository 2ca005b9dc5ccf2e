package core

import (
	"fmt"
	"strings"
	"time"
)

// ProfileDefaults holds environment-specific default configuration values.
// Profiles provide defaults only; explicit env vars always override.
type ProfileDefaults struct {
	Name string

	// DispatchTimeoutSeconds bounds the handling of one delivery.
	DispatchTimeoutSeconds int
	// RenewalCadenceSeconds is how often the app assertion is checked.
	RenewalCadenceSeconds int
	// RebuildRetrySeconds is the wait between failed registry rebuilds.
	RebuildRetrySeconds int

	MediaContentFilter   string
	MediaCacheTTLSeconds int
	ImageWidth           int
	ImageHeight          int
	SimilarLimit         int
}

func (p *ProfileDefaults) DispatchTimeout() time.Duration {
	return time.Duration(p.DispatchTimeoutSeconds) * time.Second
}

func (p *ProfileDefaults) RenewalCadence() time.Duration {
	return time.Duration(p.RenewalCadenceSeconds) * time.Second
}

func (p *ProfileDefaults) RebuildRetry() time.Duration {
	return time.Duration(p.RebuildRetrySeconds) * time.Second
}

func (p *ProfileDefaults) MediaCacheTTL() time.Duration {
	return time.Duration(p.MediaCacheTTLSeconds) * time.Second
}

var profiles = map[string]*ProfileDefaults{
	"dev": {
		Name:                   "dev",
		DispatchTimeoutSeconds: 120,
		RenewalCadenceSeconds:  60,
		RebuildRetrySeconds:    60,
		MediaContentFilter:     "medium",
		MediaCacheTTLSeconds:   300,
		ImageWidth:             480,
		ImageHeight:            270,
		SimilarLimit:           5,
	},
	"staging": {
		Name:                   "staging",
		DispatchTimeoutSeconds: 60,
		RenewalCadenceSeconds:  60,
		RebuildRetrySeconds:    60,
		MediaContentFilter:     "medium",
		MediaCacheTTLSeconds:   3600,
		ImageWidth:             480,
		ImageHeight:            270,
		SimilarLimit:           5,
	},
	"prod": {
		Name:                   "prod",
		DispatchTimeoutSeconds: 30,
		RenewalCadenceSeconds:  60,
		RebuildRetrySeconds:    120,
		MediaContentFilter:     "high",
		MediaCacheTTLSeconds:   86400,
		ImageWidth:             320,
		ImageHeight:            180,
		SimilarLimit:           5,
	},
}

// LoadProfile returns profile defaults for the given name.
// Empty name defaults to "dev". Unknown names return an error.
func LoadProfile(name string) (*ProfileDefaults, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		name = "dev"
	}
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (valid: dev, staging, prod)", name)
	}
	copy := *p
	return &copy, nil
}
