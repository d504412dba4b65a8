package portal

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"inverter-report/utils"
)

func TestNewDefaultsTimeout(t *testing.T) {
	f := New(Options{URL: "http://localhost", MaxRetries: 2}, utils.NewNopLogger())
	if f.opts.Timeout != 2*time.Minute {
		t.Errorf("timeout: got %v, want 2m", f.opts.Timeout)
	}
	if f.retry.MaxAttempts != 2 {
		t.Errorf("attempts: got %d, want 2", f.retry.MaxAttempts)
	}
}

func TestFetchSkipsWhenDatasetIsCurrent(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "downloads")
	f := New(Options{URL: "http://localhost", ExportSelector: "#export", TempDir: tempDir}, utils.NewNopLogger())

	atts, err := f.Fetch(context.Background(), time.Now().Add(24*time.Hour))
	if err != nil || atts != nil {
		t.Fatalf("Fetch: got (%v, %v), want (nil, nil)", atts, err)
	}
	if _, err := os.Stat(tempDir); !os.IsNotExist(err) {
		t.Error("temp dir should not be created when the export is skipped")
	}
}

func TestFindChromeBinarySearchesPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chromium")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	if got := findChromeBinary(); got != bin {
		t.Errorf("got %q, want %q", got, bin)
	}
}

func TestRemoveDownloads(t *testing.T) {
	dir := t.TempDir()
	for _, guid := range []string{"a1", "b2", "c3"} {
		if err := os.WriteFile(filepath.Join(dir, guid), []byte("partial"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		guids   []string
		keep    string
		removed int
		left    []string
	}{
		{"keeps the finished download", []string{"a1", "b2"}, "b2", 1, []string{"b2", "c3"}},
		{"failed attempt removes all seen", []string{"b2", "missing"}, "", 1, []string{"c3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeDownloads(dir, tt.guids, tt.keep); got != tt.removed {
				t.Errorf("removed: got %d, want %d", got, tt.removed)
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			var left []string
			for _, e := range entries {
				left = append(left, e.Name())
			}
			if !reflect.DeepEqual(left, tt.left) {
				t.Errorf("left: got %v, want %v", left, tt.left)
			}
		})
	}
}
