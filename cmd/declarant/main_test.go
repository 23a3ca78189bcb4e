package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourorg/declarant/internal/config"
)

func TestDefaultConfigTemplateKeysAreRecognized(t *testing.T) {
	edited := strings.Replace(defaultConfigContent, "high_confidence_threshold: 80", "high_confidence_threshold: 95", 1)
	edited = strings.Replace(edited, "medium_confidence_threshold: 40", "medium_confidence_threshold: 60", 1)
	edited = strings.Replace(edited, "chunk_size: 10", "chunk_size: 3", 1)
	if edited == defaultConfigContent {
		t.Fatal("template keys no longer match the expected names, update this test")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("seeded template must load: %v", err)
	}
	if cfg.Processing.HighConfidence != 95 || cfg.Processing.MediumConfidence != 60 {
		t.Fatalf("edited thresholds must take effect, got high=%d medium=%d",
			cfg.Processing.HighConfidence, cfg.Processing.MediumConfidence)
	}
	if cfg.Processing.ChunkSize != 3 {
		t.Fatalf("edited chunk size must take effect, got %d", cfg.Processing.ChunkSize)
	}
}

func TestDefaultConfigTemplateMatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(defaultConfigContent), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("seeded template must load: %v", err)
	}
	want := &config.Config{}
	want.SetDefaults()
	if cfg.Processing != want.Processing {
		t.Fatalf("template processing values drifted from defaults: %+v vs %+v", cfg.Processing, want.Processing)
	}
	if cfg.Server != want.Server {
		t.Fatalf("template server values drifted from defaults: %+v vs %+v", cfg.Server, want.Server)
	}
}
