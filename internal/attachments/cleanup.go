package attachments

import (
	"context"
	"errors"
	"fmt"
	"os"

	"tgcast/internal/domain"
	logx "tgcast/pkg/logx"
)

// RefCounter reports how many other pending posts and recurring definitions
// reference a recorded path.
type RefCounter interface {
	CountAttachmentRefs(ctx context.Context, path string, excludePostID string) (int, error)
}

// Cleaner deletes attachment files of a consumed post.
type Cleaner struct {
	refs     RefCounter
	resolver *Resolver
	enabled  bool
	log      logx.Logger
}

func NewCleaner(refs RefCounter, resolver *Resolver, enabled bool, log logx.Logger) *Cleaner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cleaner{refs: refs, resolver: resolver, enabled: enabled, log: log}
}

// Cleanup removes each file of postID that nothing else references. Files whose
// reference count cannot be read are kept, and so are files only found by
// name in a base dir.
func (c *Cleaner) Cleanup(ctx context.Context, postID string, atts []domain.Attachment) (int, error) {
	if c == nil || !c.enabled || len(atts) == 0 {
		return 0, nil
	}
	seen := make(map[string]struct{}, len(atts))
	removed := 0
	var errs []error
	for _, a := range atts {
		if _, ok := seen[a.Path]; ok {
			continue
		}
		seen[a.Path] = struct{}{}

		n, err := c.refs.CountAttachmentRefs(ctx, a.Path, postID)
		if err != nil {
			errs = append(errs, fmt.Errorf("count refs %s: %w", a.Path, err))
			continue
		}
		if n > 0 {
			c.log.Debug("attachment still referenced", logx.String("path", a.Path), logx.Int("refs", n))
			continue
		}
		abs, err := c.resolver.ResolveExact(a.Path)
		if err != nil {
			c.log.Debug("attachment not found for cleanup", logx.String("path", a.Path))
			continue
		}
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		c.log.Debug("attachments removed", logx.String("post", postID), logx.Int("count", removed))
	}
	return removed, errors.Join(errs...)
}
