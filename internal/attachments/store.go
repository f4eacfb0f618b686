package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gastos/internal/core"
)

const maxNameLen = 100

// Store binds uploaded files to expenses. It owns key generation and the
// signed links for reading the bytes back.
type Store struct {
	blobs BlobStore
	links *Signer
	index KeyIndex
}

// KeyIndex reports whether an attachment record already owns a key.
type KeyIndex interface {
	AttachmentKeyExists(ctx context.Context, key string) (bool, error)
}

func NewStore(blobs BlobStore, links *Signer) *Store {
	return &Store{blobs: blobs, links: links}
}

// WithKeyIndex makes key allocation also consult recorded attachments, so a
// key stays unique even when its blob has gone missing.
func (s *Store) WithKeyIndex(index KeyIndex) *Store {
	c := *s
	c.index = index
	return &c
}

func (s *Store) keyTaken(ctx context.Context, key string) (bool, error) {
	if s.index != nil {
		taken, err := s.index.AttachmentKeyExists(ctx, key)
		if err != nil || taken {
			return taken, err
		}
	}
	return s.blobs.Exists(ctx, key)
}

// Key returns the preferred key for a file: {expenseId}_{category}_{name}.
func Key(expenseID int64, category core.Category, filename string) string {
	return strconv.FormatInt(expenseID, 10) + "_" + string(category) + "_" + sanitizeFilename(filename)
}

// sanitizeFilename drops any client path and keeps a conservative charset.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		out = "file"
	}
	if len(out) > maxNameLen {
		ext := filepath.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		out = out[:maxNameLen-len(ext)] + ext
	}
	return out
}

// uniqueKey returns Key(...) or, if that is taken, a variant with a short
// random suffix ahead of the extension.
func (s *Store) uniqueKey(ctx context.Context, expenseID int64, u core.Upload) (string, error) {
	key := Key(expenseID, u.Category, u.Filename)
	for attempt := 0; attempt < 5; attempt++ {
		taken, err := s.keyTaken(ctx, key)
		if err != nil {
			return "", err
		}
		if !taken {
			return key, nil
		}
		base := Key(expenseID, u.Category, u.Filename)
		ext := filepath.Ext(base)
		key = strings.TrimSuffix(base, ext) + "-" + uuid.NewString()[:8] + ext
	}
	return "", errors.New("could not find a free attachment key")
}

// Save persists one upload for expenseID. Failures are reported as
// ErrStorageFailure and leave no blob behind.
func (s *Store) Save(ctx context.Context, expenseID int64, u core.Upload) (core.Attachment, error) {
	if err := u.Validate(); err != nil {
		return core.Attachment{}, err
	}
	key, err := s.uniqueKey(ctx, expenseID, u)
	if err != nil {
		return core.Attachment{}, fmt.Errorf("%w: allocate key: %w", core.ErrStorageFailure, err)
	}
	n, err := s.blobs.Put(ctx, key, u.Body)
	if err != nil {
		s.blobs.Delete(context.WithoutCancel(ctx), key)
		return core.Attachment{}, fmt.Errorf("%w: store %s: %w", core.ErrStorageFailure, key, err)
	}

	contentType := u.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(u.Filename)))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return core.Attachment{
		Key:              key,
		ExpenseID:        expenseID,
		OriginalFilename: filepath.Base(strings.ReplaceAll(u.Filename, "\\", "/")),
		Category:         u.Category,
		ContentType:      contentType,
		SizeBytes:        n,
	}, nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.blobs.Open(ctx, key)
}

// Delete removes the bytes for key. Links issued earlier stop resolving.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: delete %s: %w", core.ErrStorageFailure, key, err)
	}
	return nil
}

// SignedURL issues a link for key valid for ttl (the signer default when
// ttl is zero). Unknown keys fail with ErrNotFound.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (SignedLink, error) {
	ok, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return SignedLink{}, fmt.Errorf("%w: stat %s: %w", core.ErrStorageFailure, key, err)
	}
	if !ok {
		return SignedLink{}, fmt.Errorf("attachment %q: %w", key, core.ErrNotFound)
	}
	return s.links.Sign(key, ttl)
}

// Resolve maps a link token back to its key, provided the token is still
// valid and the bytes still exist.
func (s *Store) Resolve(ctx context.Context, token string) (string, error) {
	key, err := s.links.Verify(token)
	if err != nil {
		return "", err
	}
	ok, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", core.ErrStorageFailure, key, err)
	}
	if !ok {
		return "", fmt.Errorf("attachment %q was removed: %w", key, core.ErrExpiredOrUnknownLink)
	}
	return key, nil
}
