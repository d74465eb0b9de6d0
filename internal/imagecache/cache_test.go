package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dockvirt/dockvirt/internal/config"
)

func TestEnsureIdempotent(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte("fake-image-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	img := config.OSImage{Key: "ubuntu22.04", URL: srv.URL + "/ubuntu.img"}

	path1, err := cache.Ensure(context.Background(), img)
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	path2, err := cache.Ensure(context.Background(), img)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if path1 != path2 {
		t.Errorf("expected same local_path across calls, got %q and %q", path1, path2)
	}
	if atomic.LoadInt32(&requests) != 1 {
		t.Errorf("expected exactly one network fetch, got %d", requests)
	}
	if _, err := os.Stat(path1 + ".part"); !os.IsNotExist(err) {
		t.Errorf("expected no .part file to remain, stat err=%v", err)
	}
}

func TestEnsureConcurrentSingleFetch(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte("fake-image-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	img := config.OSImage{Key: "ubuntu22.04", URL: srv.URL + "/ubuntu.img"}

	const n = 8
	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = cache.Ensure(context.Background(), img)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Ensure[%d]: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if paths[i] != paths[0] {
			t.Errorf("expected all callers to get the same path, got %q and %q", paths[0], paths[i])
		}
	}
	if atomic.LoadInt32(&requests) != 1 {
		t.Errorf("expected exactly one network fetch across %d concurrent callers, got %d", n, requests)
	}
}

func TestEnsureNetworkFailureLeavesNoPart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	img := config.OSImage{Key: "ubuntu22.04", URL: srv.URL + "/ubuntu.img"}

	if _, err := cache.Ensure(context.Background(), img); err == nil {
		t.Fatal("expected ImageFetch error on HTTP 500")
	}

	dest := filepath.Join(dir, "ubuntu.img")
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Errorf("expected no leftover .part file, stat err=%v", err)
	}
	if _, err := os.Stat(dest + ".lock"); !os.IsNotExist(err) {
		t.Errorf("expected lock file to be released, stat err=%v", err)
	}
}
