// Package attachments locates stored upload files and removes them once no
// pending post or recurring definition references them.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"tgcast/internal/domain"
	logx "tgcast/pkg/logx"
)

var ErrNotFound = errors.New("attachment file not found")

// PrepareFunc post-processes an uploaded file (e.g. transcoding) and returns
// the path to store. Identity leaves the file alone.
type PrepareFunc func(ctx context.Context, path string) (string, error)

func Identity(_ context.Context, path string) (string, error) { return path, nil }

// Resolved pairs an attachment with its absolute on-disk path.
type Resolved struct {
	domain.Attachment
	AbsPath string
}

// Resolver maps recorded paths to absolute ones. Paths may have been recorded
// relative to a different working directory, so a few base dirs are tried.
type Resolver struct {
	bases []string
	log   logx.Logger
}

func NewResolver(bases []string, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	clean := make([]string, 0, len(bases))
	for _, b := range bases {
		if b = strings.TrimSpace(b); b != "" {
			clean = append(clean, b)
		}
	}
	return &Resolver{bases: clean, log: log}
}

// Resolve tries, in order: the recorded path, each base joined with the
// recorded path, and each base joined with the file name alone.
func (r *Resolver) Resolve(recorded string) (string, error) {
	return r.resolve(recorded, true)
}

// ResolveExact is Resolve without the file-name-only fallback, which may
// match an unrelated file of the same name.
func (r *Resolver) ResolveExact(recorded string) (string, error) {
	return r.resolve(recorded, false)
}

func (r *Resolver) resolve(recorded string, byName bool) (string, error) {
	recorded = strings.TrimSpace(recorded)
	if recorded == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	candidates := []string{recorded}
	if !filepath.IsAbs(recorded) {
		for _, b := range r.bases {
			candidates = append(candidates, filepath.Join(b, recorded))
		}
	}
	exact := len(candidates)
	if byName {
		for _, b := range r.bases {
			candidates = append(candidates, filepath.Join(b, filepath.Base(recorded)))
		}
	}
	for i, c := range candidates {
		fi, err := os.Stat(c)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		if i >= exact {
			r.log.Debug("attachment matched by file name", logx.String("recorded", recorded), logx.String("path", abs))
		}
		return abs, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, recorded)
}

// ResolveAll resolves every attachment. The error lists all missing files.
func (r *Resolver) ResolveAll(atts []domain.Attachment) ([]Resolved, error) {
	out := make([]Resolved, 0, len(atts))
	var missing []error
	for _, a := range atts {
		abs, err := r.Resolve(a.Path)
		if err != nil {
			missing = append(missing, err)
			continue
		}
		if a.Class == "" {
			a.Class = ClassOf(abs)
		}
		out = append(out, Resolved{Attachment: a, AbsPath: abs})
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	return out, nil
}

// ClassOf guesses the media class from the file extension.
func ClassOf(path string) domain.MediaClass {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return domain.MediaImage
	case ".mp4", ".mov", ".m4v", ".webm", ".mkv", ".avi":
		return domain.MediaVideo
	}
	ct := mime.TypeByExtension(ext)
	switch {
	case strings.HasPrefix(ct, "image/") && !strings.Contains(ct, "svg"):
		return domain.MediaImage
	case strings.HasPrefix(ct, "video/"):
		return domain.MediaVideo
	default:
		return domain.MediaDocument
	}
}

// PrepareAll runs fn over every attachment path and fills in missing classes.
func PrepareAll(ctx context.Context, fn PrepareFunc, atts []domain.Attachment) ([]domain.Attachment, error) {
	if fn == nil {
		fn = Identity
	}
	out := make([]domain.Attachment, 0, len(atts))
	for _, a := range atts {
		p, err := fn(ctx, a.Path)
		if err != nil {
			return nil, fmt.Errorf("prepare %s: %w", a.Path, err)
		}
		a.Path = p
		if a.Name == "" {
			a.Name = filepath.Base(p)
		}
		if a.Class == "" {
			a.Class = ClassOf(p)
		}
		out = append(out, a)
	}
	return out, nil
}
