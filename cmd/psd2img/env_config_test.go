package main

// Tests use t.Setenv() which prevents t.Parallel().

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alnah/go-psd2img/internal/config"
)

func TestLoadEnvConfig(t *testing.T) {
	t.Run("all variables", func(t *testing.T) {
		t.Setenv("PSD2IMG_CONFIG", "/etc/psd2img.yaml")
		t.Setenv("PSD2IMG_OUTPUT_DIR", "/out")
		t.Setenv("PSD2IMG_SCALES", "1x, 2x,,3x")
		t.Setenv("PSD2IMG_MODE", "aggressive")
		t.Setenv("PSD2IMG_CORES", "3")
		t.Setenv("PSD2IMG_DB", "/var/lib/catalog.db")
		t.Setenv("PSD2IMG_LISTEN", ":9000")
		t.Setenv("PSD2IMG_LOG_LEVEL", "debug")

		got := loadEnvConfig()
		want := &envConfig{
			ConfigPath: "/etc/psd2img.yaml",
			OutputDir:  "/out",
			Scales:     []string{"1x", "2x", "3x"},
			Mode:       "aggressive",
			Cores:      3,
			DB:         "/var/lib/catalog.db",
			Listen:     ":9000",
			LogLevel:   "debug",
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("loadEnvConfig() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid cores ignored", func(t *testing.T) {
		for _, v := range []string{"abc", "-2"} {
			t.Setenv("PSD2IMG_CORES", v)
			if got := loadEnvConfig().Cores; got != -1 {
				t.Errorf("PSD2IMG_CORES=%q: Cores = %d, want -1", v, got)
			}
		}
	})

	t.Run("zero cores is explicit", func(t *testing.T) {
		t.Setenv("PSD2IMG_CORES", "0")
		if got := loadEnvConfig().Cores; got != 0 {
			t.Errorf("Cores = %d, want 0", got)
		}
	})
}

func TestWarnUnknownEnvVars(t *testing.T) {
	t.Setenv("PSD2IMG_SCALE", "2x")
	t.Setenv("PSD2IMG_MODE", "standard")

	var buf bytes.Buffer
	warnUnknownEnvVars(&buf)

	out := buf.String()
	if !strings.Contains(out, "PSD2IMG_SCALE ") {
		t.Errorf("expected warning for PSD2IMG_SCALE, got %q", out)
	}
	if strings.Contains(out, "PSD2IMG_MODE") {
		t.Errorf("known variable reported: %q", out)
	}
}

func TestApplyEnvConfig(t *testing.T) {
	t.Parallel()

	t.Run("env overrides file", func(t *testing.T) {
		t.Parallel()

		cfg := config.DefaultConfig()
		cfg.Processing.Mode = config.ModeStandard
		applyEnvConfig(&envConfig{
			OutputDir: "/out",
			Scales:    []string{"2x"},
			Mode:      config.ModeAggressive,
			Cores:     2,
			DB:        "c.db",
			Listen:    ":1",
			LogLevel:  "warn",
		}, cfg)

		if cfg.Output.Dir != "/out" || cfg.Processing.Mode != config.ModeAggressive ||
			cfg.Processing.Cores != 2 || cfg.Store.Path != "c.db" ||
			cfg.Notify.Listen != ":1" || cfg.Log.Level != "warn" {
			t.Errorf("env not applied: %+v", cfg)
		}
		if diff := cmp.Diff([]string{"2x"}, cfg.Processing.Scales); diff != "" {
			t.Errorf("scales mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unset env keeps file values", func(t *testing.T) {
		t.Parallel()

		cfg := config.DefaultConfig()
		cfg.Processing.Cores = 5
		want := *cfg
		applyEnvConfig(&envConfig{Cores: -1}, cfg)

		if diff := cmp.Diff(want, *cfg); diff != "" {
			t.Errorf("config changed (-want +got):\n%s", diff)
		}
	})
}
