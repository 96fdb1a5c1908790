package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FilesRoute is where the HTTP server exposes disk uploads.
const FilesRoute = "/files"

// Disk writes uploads below a local directory served at FilesRoute.
type Disk struct {
	root    string
	baseURL string
	log     zerolog.Logger
}

func NewDisk(root, publicBaseURL string, log zerolog.Logger) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{
		root:    root,
		baseURL: joinURL(publicBaseURL, FilesRoute[1:]),
		log:     log.With().Str("component", "disk-storage").Logger(),
	}, nil
}

// Root returns the directory files are written to.
func (d *Disk) Root() string {
	return d.root
}

func (d *Disk) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", key, err)
	}

	written, err := io.Copy(f, body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	d.log.Debug().Str("key", key).Int64("bytes", written).Str("content_type", contentType).Msg("stored upload")
	return joinURL(d.baseURL, key), nil
}
