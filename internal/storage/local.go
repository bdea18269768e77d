package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidOwner = errors.New("invalid attachment owner")
	ErrUnknownRef   = errors.New("unknown attachment reference")
)

// LocalFileStore keeps attachments on local disk under one directory per sender.
type LocalFileStore struct {
	dir       string
	urlPrefix string
	logger    *zap.Logger
	now       func() time.Time
}

func NewLocalFileStore(dir, urlPrefix string, logger *zap.Logger) *LocalFileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalFileStore{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		logger:    logger,
		now:       time.Now,
	}
}

// Dir is the root directory served under the URL prefix.
func (s *LocalFileStore) Dir() string {
	return s.dir
}

// Save writes the upload and returns the reference stored on the message.
func (s *LocalFileStore) Save(ctx context.Context, owner string, header *multipart.FileHeader) (string, error) {
	if owner == "" || owner != filepath.Base(owner) || owner == "." || owner == ".." {
		return "", ErrInvalidOwner
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	ownerDir := filepath.Join(s.dir, owner)
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	name := fmt.Sprintf("%d_%s%s", s.now().UnixNano(), uuid.NewString()[:8], ext)
	dst, err := os.OpenFile(filepath.Join(ownerDir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}

	s.logger.Debug("attachment stored", zap.String("owner", owner), zap.String("file", name), zap.Int64("size", header.Size))
	return path.Join(s.urlPrefix, owner, name), nil
}

// Remove deletes an attachment previously returned by Save. Unknown or
// foreign references are rejected.
func (s *LocalFileStore) Remove(ctx context.Context, ref string) error {
	rel, ok := strings.CutPrefix(ref, s.urlPrefix+"/")
	if !ok {
		return ErrUnknownRef
	}
	owner, name, ok := strings.Cut(rel, "/")
	if !ok || owner != filepath.Base(owner) || name != filepath.Base(name) || owner == ".." || name == ".." {
		return ErrUnknownRef
	}
	if err := os.Remove(filepath.Join(s.dir, owner, name)); err != nil {
		return fmt.Errorf("remove upload: %w", err)
	}
	s.logger.Debug("attachment removed", zap.String("owner", owner), zap.String("file", name))
	return nil
}
