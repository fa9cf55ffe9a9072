package atomicfile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteProducesExactBytesWithoutTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "pkg", "package.json")

	payload := bytes.Repeat([]byte("0123456789"), 10_000)
	if err := Write(context.Background(), target, bytes.NewReader(payload)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("target bytes differ from source stream")
	}
	assertNoTempFiles(t, filepath.Dir(target))
}

func TestWriteReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "package.json")
	if err := os.WriteFile(target, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := Write(context.Background(), target, strings.NewReader("new")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "new" {
		t.Fatalf("expected replaced content, got %q", got)
	}
	assertNoTempFiles(t, dir)
}

func TestWriteSourceErrorCleansUpAndKeepsTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "demo-1.0.0.tgz")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("source broke")
	src := io.MultiReader(strings.NewReader("partial"), errReader{err: boom})
	err := Write(context.Background(), target, src)
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error to surface, got %v", err)
	}

	got, _ := os.ReadFile(target)
	if string(got) != "original" {
		t.Fatalf("target must not be touched on failure, got %q", got)
	}
	assertNoTempFiles(t, dir)
}

func TestWriteHonoursCancelledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Write(ctx, filepath.Join(dir, "x"), strings.NewReader("data"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if Exists(filepath.Join(dir, "x")) {
		t.Fatalf("target should not exist")
	}
	assertNoTempFiles(t, dir)
}

func TestWriteExclusiveRefusesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "demo-1.0.0.tgz")
	if err := WriteExclusive(context.Background(), target, strings.NewReader("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}

	err := WriteExclusive(context.Background(), target, strings.NewReader("second"))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "first" {
		t.Fatalf("existing tarball overwritten: %q", got)
	}
	assertNoTempFiles(t, dir)
}

func TestRemoveHelpersAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := RemoveFile(filepath.Join(dir, "missing.tgz")); err != nil {
		t.Fatalf("removing a missing file should succeed: %v", err)
	}
	pkgDir := filepath.Join(dir, "demo-pkg")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := RemoveDir(pkgDir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := RemoveDir(pkgDir); err != nil {
		t.Fatalf("second remove should succeed: %v", err)
	}
}

func TestTempNameKeepsTargetPrefix(t *testing.T) {
	name := TempName("/a/b/package.json")
	if !strings.HasPrefix(name, "/a/b/package.json.tmp-") {
		t.Fatalf("unexpected temp name %s", name)
	}
	if TempName("/x") == TempName("/x") {
		t.Fatalf("temp names should be random")
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Fatalf("leftover temp file %s", entry.Name())
		}
	}
}
