package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"SYNC_PUSH_INTERVAL", "SYNC_PULL_INTERVAL", "SYNC_PROBE_TIMEOUT", "HFF_REMOTE_URL", "SYNC_REQUEUE_FAILED"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.PushInterval != 30*time.Second {
		t.Errorf("PushInterval = %v, want 30s", cfg.PushInterval)
	}
	if cfg.PullInterval != 60*time.Second {
		t.Errorf("PullInterval = %v, want 60s", cfg.PullInterval)
	}
	if cfg.ProbeTimeout != 5*time.Second {
		t.Errorf("ProbeTimeout = %v, want 5s", cfg.ProbeTimeout)
	}
	if cfg.RemoteURL != "http://localhost:8787" {
		t.Errorf("RemoteURL = %q", cfg.RemoteURL)
	}
	if cfg.RequeueFailed {
		t.Error("RequeueFailed should default to false")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SYNC_PUSH_INTERVAL", "10s")
	t.Setenv("SYNC_PULL_INTERVAL", "120")
	t.Setenv("HFF_REMOTE_URL", "https://sync.example.org/")
	t.Setenv("SYNC_REQUEUE_FAILED", "true")

	cfg := Load()

	if cfg.PushInterval != 10*time.Second {
		t.Errorf("PushInterval = %v, want 10s", cfg.PushInterval)
	}
	if cfg.PullInterval != 120*time.Second {
		t.Errorf("PullInterval = %v, want 2m", cfg.PullInterval)
	}
	if cfg.RemoteURL != "https://sync.example.org" {
		t.Errorf("RemoteURL = %q, trailing slash should be trimmed", cfg.RemoteURL)
	}
	if !cfg.RequeueFailed {
		t.Error("RequeueFailed should be true")
	}
}

func TestLoad_ClampsOutOfRange(t *testing.T) {
	t.Setenv("SYNC_PUSH_INTERVAL", "1ms")
	t.Setenv("SYNC_PROBE_TIMEOUT", "10m")

	cfg := Load()

	if cfg.PushInterval != MinInterval {
		t.Errorf("PushInterval = %v, want clamp to %v", cfg.PushInterval, MinInterval)
	}
	if cfg.ProbeTimeout != MaxProbeTimeout {
		t.Errorf("ProbeTimeout = %v, want clamp to %v", cfg.ProbeTimeout, MaxProbeTimeout)
	}
}

func TestGetEnvBool_Invalid(t *testing.T) {
	t.Setenv("SOME_FLAG", "perhaps")
	if got := getEnvBool("SOME_FLAG", true); !got {
		t.Error("invalid bool should return fallback")
	}
}
