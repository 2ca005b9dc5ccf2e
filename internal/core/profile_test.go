package core

import (
	"testing"
	"time"
)

func TestLoadProfile_Dev(t *testing.T) {
	p, err := LoadProfile("dev")
	if err != nil {
		t.Fatalf("LoadProfile(dev) error: %v", err)
	}
	if p.Name != "dev" {
		t.Errorf("Name = %q, want %q", p.Name, "dev")
	}
	if p.DispatchTimeout() != 2*time.Minute {
		t.Errorf("DispatchTimeout = %v, want 2m", p.DispatchTimeout())
	}
	if p.MediaContentFilter != "medium" {
		t.Errorf("MediaContentFilter = %q, want %q", p.MediaContentFilter, "medium")
	}
	if p.MediaCacheTTL() != 5*time.Minute {
		t.Errorf("MediaCacheTTL = %v, want 5m", p.MediaCacheTTL())
	}
}

func TestLoadProfile_Staging(t *testing.T) {
	p, err := LoadProfile("staging")
	if err != nil {
		t.Fatalf("LoadProfile(staging) error: %v", err)
	}
	if p.DispatchTimeoutSeconds != 60 {
		t.Errorf("DispatchTimeoutSeconds = %d, want 60", p.DispatchTimeoutSeconds)
	}
	if p.MediaCacheTTLSeconds != 3600 {
		t.Errorf("MediaCacheTTLSeconds = %d, want 3600", p.MediaCacheTTLSeconds)
	}
}

func TestLoadProfile_Prod(t *testing.T) {
	p, err := LoadProfile("prod")
	if err != nil {
		t.Fatalf("LoadProfile(prod) error: %v", err)
	}
	if p.DispatchTimeoutSeconds != 30 {
		t.Errorf("DispatchTimeoutSeconds = %d, want 30", p.DispatchTimeoutSeconds)
	}
	if p.MediaContentFilter != "high" {
		t.Errorf("MediaContentFilter = %q, want %q", p.MediaContentFilter, "high")
	}
	if p.ImageWidth != 320 || p.ImageHeight != 180 {
		t.Errorf("image = %dx%d, want 320x180", p.ImageWidth, p.ImageHeight)
	}
}

func TestLoadProfile_AllRenewOnTheMinute(t *testing.T) {
	for _, name := range []string{"dev", "staging", "prod"} {
		p, err := LoadProfile(name)
		if err != nil {
			t.Fatalf("LoadProfile(%s) error: %v", name, err)
		}
		if p.RenewalCadence() != time.Minute {
			t.Errorf("%s: RenewalCadence = %v, want 1m", name, p.RenewalCadence())
		}
		if p.SimilarLimit != 5 {
			t.Errorf("%s: SimilarLimit = %d, want 5", name, p.SimilarLimit)
		}
	}
}

func TestLoadProfile_EmptyDefaultsToDev(t *testing.T) {
	p, err := LoadProfile("")
	if err != nil {
		t.Fatalf("LoadProfile(\"\") error: %v", err)
	}
	if p.Name != "dev" {
		t.Errorf("Name = %q, want %q", p.Name, "dev")
	}
}

func TestLoadProfile_CaseInsensitive(t *testing.T) {
	p, err := LoadProfile(" PROD ")
	if err != nil {
		t.Fatalf("LoadProfile(PROD) error: %v", err)
	}
	if p.Name != "prod" {
		t.Errorf("Name = %q, want %q", p.Name, "prod")
	}
}

func TestLoadProfile_UnknownReturnsError(t *testing.T) {
	if _, err := LoadProfile("unknown"); err == nil {
		t.Fatal("LoadProfile(unknown) should return error")
	}
}

func TestLoadProfile_ReturnsCopy(t *testing.T) {
	p1, _ := LoadProfile("dev")
	p2, _ := LoadProfile("dev")
	p1.DispatchTimeoutSeconds = 9999
	if p2.DispatchTimeoutSeconds == 9999 {
		t.Error("LoadProfile should return independent copies")
	}
}
