// Package artifact renders connection files and publishes them behind
// time-limited links.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/staffctl/staffctl/internal/aws"
)

const (
	rdpPort    = 3389
	DefaultTTL = 24 * time.Hour
)

// ErrNoBucket is reported in Delivery.Err when no artifact bucket is configured.
var ErrNoBucket = errors.New("no artifact bucket configured")

// RenderRDP renders a minimal remote desktop connection file.
func RenderRDP(host, username string) []byte {
	return fmt.Appendf(nil, "full address:s:%s:%d\nusername:s:%s\n", host, rdpPort, username)
}

// FileName is the object name of the connection file for a user and instance.
func FileName(username, instanceID string) string {
	return fmt.Sprintf("%s-%s.rdp", username, instanceID)
}

// Delivery is the outcome of publishing one artifact.
type Delivery struct {
	LocalPath string
	Key       string
	URL       string
	// Err holds the upload or link failure; LocalPath is still usable.
	Err error
}

// Reference returns the link when there is one and the local path otherwise.
func (d Delivery) Reference() string {
	if d.URL != "" {
		return d.URL
	}
	return d.LocalPath
}

// Deliverer writes artifacts locally and publishes them to the artifact store.
type Deliverer struct {
	store    aws.ArtifactStore
	prefix   string
	ttl      time.Duration
	localDir string
	logger   *slog.Logger
}

// NewDeliverer creates a Deliverer. A nil store disables publishing.
func NewDeliverer(store aws.ArtifactStore, prefix string, ttl time.Duration, localDir string, logger *slog.Logger) *Deliverer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if localDir == "" {
		localDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{store: store, prefix: prefix, ttl: ttl, localDir: localDir, logger: logger}
}

// Deliver writes data to the local directory, uploads it under prefix/name
// and presigns a download link. Only a failed local write is returned as an
// error; publishing problems end up in Delivery.Err.
func (d *Deliverer) Deliver(ctx context.Context, name string, data []byte) (Delivery, error) {
	var out Delivery

	if err := os.MkdirAll(d.localDir, 0o750); err != nil {
		return out, fmt.Errorf("creating artifact directory: %w", err)
	}
	out.LocalPath = filepath.Join(d.localDir, name)
	if err := os.WriteFile(out.LocalPath, data, 0o600); err != nil {
		return Delivery{}, fmt.Errorf("writing artifact: %w", err)
	}

	if d.store == nil {
		out.Err = ErrNoBucket
		return out, nil
	}

	out.Key = path.Join(d.prefix, name)
	handle, err := d.store.Upload(ctx, out.Key, data)
	if err != nil {
		out.Err = fmt.Errorf("uploading %s: %w", out.Key, err)
		d.logger.Warn("artifact upload failed, using local file", "key", out.Key, "error", err)
		return out, nil
	}

	url, err := d.store.PresignedURL(ctx, handle, d.ttl)
	if err != nil {
		out.Err = fmt.Errorf("presigning %s: %w", out.Key, err)
		d.logger.Warn("artifact link failed, using local file", "key", out.Key, "error", err)
		return out, nil
	}
	out.URL = url
	return out, nil
}
