package gcp

import (
	"errors"
	"testing"
)

func TestResolveObjectStorageConfigFromEnvDefaultGCS(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	t.Setenv("SKELETON_BUCKET", "books")

	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfigFromEnv: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCS, cfg.Mode)
	}
	if cfg.Bucket != "books" {
		t.Fatalf("bucket: want=%q got=%q", "books", cfg.Bucket)
	}
	if got := cfg.ModeSource(); got != "explicit_or_default" {
		t.Fatalf("ModeSource: want=%q got=%q", "explicit_or_default", got)
	}
}

func TestResolveObjectStorageConfigFromEnvCompatibilityFallback(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443")
	t.Setenv("SKELETON_BUCKET", "books")

	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfigFromEnv: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCSEmulator {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCSEmulator, cfg.Mode)
	}
	if !cfg.CompatibilityFallback {
		t.Fatalf("compatibility fallback: want=true got=false")
	}
}

func TestResolveObjectStorageConfigFromEnvMemoryDefaultsBucket(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "memory")
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	t.Setenv("SKELETON_BUCKET", "")

	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfigFromEnv: %v", err)
	}
	if cfg.Mode != ObjectStorageModeMemory || cfg.Bucket != "memory" {
		t.Fatalf("want memory/memory got=%q/%q", cfg.Mode, cfg.Bucket)
	}
}

func TestResolveObjectStorageConfigFromEnvErrors(t *testing.T) {
	cases := []struct {
		name     string
		mode     string
		emulator string
		bucket   string
		code     ObjectStorageConfigErrorCode
	}{
		{"invalid mode", "local", "", "books", ObjectStorageConfigErrorInvalidMode},
		{"missing bucket", "gcs", "", "", ObjectStorageConfigErrorMissingBucket},
		{"missing emulator host", "gcs_emulator", "", "books", ObjectStorageConfigErrorMissingEmulatorHost},
		{"relative emulator host", "gcs_emulator", "fake-gcs:4443", "books", ObjectStorageConfigErrorInvalidEmulatorHost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OBJECT_STORAGE_MODE", tc.mode)
			t.Setenv("STORAGE_EMULATOR_HOST", tc.emulator)
			t.Setenv("SKELETON_BUCKET", tc.bucket)

			_, err := ResolveObjectStorageConfigFromEnv()
			var cfgErr *ObjectStorageConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("want ObjectStorageConfigError got=%v", err)
			}
			if cfgErr.Code != tc.code {
				t.Fatalf("code: want=%q got=%q", tc.code, cfgErr.Code)
			}
		})
	}
}
