package attachments

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tgcast/internal/domain"
	logx "tgcast/pkg/logx"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveFallsBackToBaseDirs(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	uploads := filepath.Join(root, "uploads")
	writeFile(t, filepath.Join(uploads, "photo.jpg"))

	r := NewResolver([]string{filepath.Join(root, "nope"), uploads}, logx.Nop())

	got, err := r.Resolve("/old/server/uploads/photo.jpg")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != filepath.Join(uploads, "photo.jpg") {
		t.Fatalf("Resolve = %q", got)
	}
	if _, err := r.Resolve("missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestResolveAllReportsEveryMissingFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"))
	r := NewResolver([]string{root}, logx.Nop())

	res, err := r.ResolveAll([]domain.Attachment{{Path: "a.png"}})
	if err != nil || len(res) != 1 || res[0].Class != domain.MediaImage {
		t.Fatalf("ResolveAll = %+v, %v", res, err)
	}
	_, err = r.ResolveAll([]domain.Attachment{{Path: "a.png"}, {Path: "b.mp4"}, {Path: "c.pdf"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestClassOf(t *testing.T) {
	t.Parallel()
	tests := map[string]domain.MediaClass{
		"a.JPG": domain.MediaImage,
		"b.png": domain.MediaImage,
		"c.mp4": domain.MediaVideo,
		"d.pdf": domain.MediaDocument,
		"e.zzz": domain.MediaDocument,
	}
	for in, want := range tests {
		if got := ClassOf(in); got != want {
			t.Fatalf("ClassOf(%q) = %s, want %s", in, got, want)
		}
	}
}

type refs map[string]int

func (r refs) CountAttachmentRefs(_ context.Context, path, _ string) (int, error) {
	return r[path], nil
}

func TestCleanupKeepsReferencedFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shared.jpg"))
	writeFile(t, filepath.Join(root, "own.jpg"))

	c := NewCleaner(refs{"shared.jpg": 1}, NewResolver([]string{root}, logx.Nop()), true, logx.Nop())
	n, err := c.Cleanup(context.Background(), "p1", []domain.Attachment{{Path: "shared.jpg"}, {Path: "own.jpg"}, {Path: "own.jpg"}})
	if err != nil || n != 1 {
		t.Fatalf("Cleanup = %d, %v", n, err)
	}
	if _, err := os.Stat(filepath.Join(root, "shared.jpg")); err != nil {
		t.Fatal("shared file removed")
	}
	if _, err := os.Stat(filepath.Join(root, "own.jpg")); !os.IsNotExist(err) {
		t.Fatal("own file kept")
	}
}

func TestCleanupIgnoresNameOnlyMatch(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	unrelated := filepath.Join(root, "photo.jpg")
	writeFile(t, unrelated)
	r := NewResolver([]string{root}, logx.Nop())

	if got, err := r.Resolve("uploads/photo.jpg"); err != nil || got != unrelated {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	c := NewCleaner(refs{}, r, true, logx.Nop())
	n, err := c.Cleanup(context.Background(), "p1", []domain.Attachment{{Path: "uploads/photo.jpg"}})
	if err != nil || n != 0 {
		t.Fatalf("Cleanup = %d, %v", n, err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func TestPrepareAll(t *testing.T) {
	t.Parallel()
	fn := func(_ context.Context, p string) (string, error) { return p + ".webp", nil }
	got, err := PrepareAll(context.Background(), fn, []domain.Attachment{{Path: "x.png"}})
	if err != nil || got[0].Path != "x.png.webp" || got[0].Name != "x.png.webp" {
		t.Fatalf("PrepareAll = %+v, %v", got, err)
	}
}
