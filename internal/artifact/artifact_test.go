package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/staffctl/staffctl/internal/aws"
	"github.com/staffctl/staffctl/internal/logging"
)

func TestRenderRDP(t *testing.T) {
	got := string(RenderRDP("ec2-1-2-3-4.compute.amazonaws.com", "alice"))
	want := "full address:s:ec2-1-2-3-4.compute.amazonaws.com:3389\nusername:s:alice\n"
	if got != want {
		t.Errorf("RenderRDP = %q, want %q", got, want)
	}
}

func TestDeliver(t *testing.T) {
	dir := t.TempDir()
	store := aws.NewMockArtifactStore()
	d := NewDeliverer(store, "rdp", 0, dir, logging.Discard())

	data := RenderRDP("host", "alice")
	out, err := d.Deliver(context.Background(), FileName("alice", "i-1"), data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Err != nil {
		t.Fatalf("unexpected delivery error: %v", out.Err)
	}
	if out.Key != "rdp/alice-i-1.rdp" {
		t.Errorf("Key = %s", out.Key)
	}
	if string(store.Objects[out.Key]) != string(data) {
		t.Error("uploaded data differs")
	}
	if len(store.TTLs) != 1 || store.TTLs[0] != 24*time.Hour {
		t.Errorf("link TTL = %v", store.TTLs)
	}
	if !strings.HasPrefix(out.Reference(), "https://") {
		t.Errorf("Reference should be the link, got %s", out.Reference())
	}

	local, err := os.ReadFile(filepath.Join(dir, "alice-i-1.rdp"))
	if err != nil {
		t.Fatalf("reading local artifact: %v", err)
	}
	if string(local) != string(data) {
		t.Error("local file differs")
	}
}

func TestDeliverFallsBackToLocalFile(t *testing.T) {
	tests := []struct {
		name  string
		store func() aws.ArtifactStore
	}{
		{"upload fails", func() aws.ArtifactStore {
			s := aws.NewMockArtifactStore()
			s.UploadErr = errors.New("AccessDenied")
			return s
		}},
		{"presign fails", func() aws.ArtifactStore {
			s := aws.NewMockArtifactStore()
			s.PresignErr = errors.New("no credentials")
			return s
		}},
		{"no bucket", func() aws.ArtifactStore { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			d := NewDeliverer(tt.store(), "rdp", time.Hour, dir, logging.Discard())

			out, err := d.Deliver(context.Background(), "bob-i-2.rdp", []byte("x"))
			if err != nil {
				t.Fatalf("publishing problems should not be errors: %v", err)
			}
			if out.Err == nil {
				t.Error("expected Delivery.Err")
			}
			if out.Reference() != filepath.Join(dir, "bob-i-2.rdp") {
				t.Errorf("Reference = %s", out.Reference())
			}
		})
	}
}
