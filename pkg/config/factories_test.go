package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/shardfs/pkg/block"
)

func TestCreateMetadataStore_Badger(t *testing.T) {
	ctx := context.Background()
	cfg := &MetadataConfig{
		Type: "badger",
		Badger: map[string]any{
			"db_path": t.TempDir(),
		},
	}

	store, err := CreateMetadataStore(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create badger metadata store: %v", err)
	}
	defer store.Close()

	// The root directory is created on open
	exists, err := store.Exists(ctx, "/")
	if err != nil {
		t.Fatalf("Failed to check root: %v", err)
	}
	if !exists {
		t.Error("Expected root directory to exist in a fresh store")
	}
}

func TestCreateMetadataStore_BadgerMissingPath(t *testing.T) {
	ctx := context.Background()
	cfg := &MetadataConfig{
		Type:   "badger",
		Badger: map[string]any{},
	}

	_, err := CreateMetadataStore(ctx, cfg)
	if err == nil {
		t.Fatal("Expected error for missing db_path")
	}
	if !strings.Contains(err.Error(), "db_path is required") {
		t.Errorf("Expected 'db_path is required' error, got: %v", err)
	}
}

func TestCreateMetadataStore_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := &MetadataConfig{Type: "memory"}

	store, err := CreateMetadataStore(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create memory metadata store: %v", err)
	}
	defer store.Close()
}

func TestCreateMetadataStore_UnknownType(t *testing.T) {
	ctx := context.Background()
	cfg := &MetadataConfig{Type: "etcd"}

	_, err := CreateMetadataStore(ctx, cfg)
	if err == nil {
		t.Fatal("Expected error for unknown metadata store type")
	}
}

func TestCreateContentStore_Filesystem(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{
		Type: "filesystem",
		Filesystem: map[string]any{
			"path": t.TempDir(),
		},
	}

	store, err := CreateContentStore(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create filesystem content store: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}
}

func TestCreateContentStore_FilesystemMissingPath(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{},
	}

	_, err := CreateContentStore(ctx, cfg)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}
}

func TestCreateContentStore_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{Type: "memory"}

	store, err := CreateContentStore(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create memory content store: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}
}

func TestCreateContentStore_S3MissingBucket(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{
		Type: "s3",
		S3: map[string]any{
			"region": "eu-west-1",
		},
	}

	_, err := CreateContentStore(ctx, cfg)
	if err == nil {
		t.Fatal("Expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket is required") {
		t.Errorf("Expected 'bucket is required' error, got: %v", err)
	}
}

func TestCreateEngine_Local(t *testing.T) {
	ctx := context.Background()

	meta, err := CreateMetadataStore(ctx, &MetadataConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create metadata store: %v", err)
	}
	defer meta.Close()

	blobs, err := CreateContentStore(ctx, &ContentConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create content store: %v", err)
	}

	eng, err := CreateEngine(ctx, &EngineConfig{Type: "local"}, meta, blobs)
	if err != nil {
		t.Fatalf("Failed to create local engine: %v", err)
	}
	if eng == nil {
		t.Fatal("Expected non-nil engine")
	}
}

func TestCreateEngine_LocalRequiresContentStore(t *testing.T) {
	ctx := context.Background()

	meta, err := CreateMetadataStore(ctx, &MetadataConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create metadata store: %v", err)
	}
	defer meta.Close()

	_, err = CreateEngine(ctx, &EngineConfig{Type: "local"}, meta, nil)
	if err == nil {
		t.Fatal("Expected error for local engine without content store")
	}
}

func TestCreateEngine_Block(t *testing.T) {
	ctx := context.Background()

	meta, err := CreateMetadataStore(ctx, &MetadataConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create metadata store: %v", err)
	}
	defer meta.Close()

	cfg := &EngineConfig{
		Type: "block",
		Block: map[string]any{
			"device_path": filepath.Join(t.TempDir(), "device.img"),
			"device_size": 1 << 20,
		},
	}

	eng, err := CreateEngine(ctx, cfg, meta, nil)
	if err != nil {
		t.Fatalf("Failed to create block engine: %v", err)
	}

	blockEng, ok := eng.(*block.Engine)
	if !ok {
		t.Fatalf("Expected *block.Engine, got %T", eng)
	}
	defer blockEng.Close()

	if blockEng.Allocator().FreeBytes() != 1<<20 {
		t.Errorf("Expected a fresh device to be fully free, got %d", blockEng.Allocator().FreeBytes())
	}
}

func TestCreateEngine_BlockMissingDevicePath(t *testing.T) {
	ctx := context.Background()

	meta, err := CreateMetadataStore(ctx, &MetadataConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create metadata store: %v", err)
	}
	defer meta.Close()

	_, err = CreateEngine(ctx, &EngineConfig{Type: "block", Block: map[string]any{}}, meta, nil)
	if err == nil {
		t.Fatal("Expected error for missing device_path")
	}
	if !strings.Contains(err.Error(), "device_path is required") {
		t.Errorf("Expected 'device_path is required' error, got: %v", err)
	}
}

func TestCreateEngine_UnknownType(t *testing.T) {
	ctx := context.Background()

	meta, err := CreateMetadataStore(ctx, &MetadataConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create metadata store: %v", err)
	}
	defer meta.Close()

	_, err = CreateEngine(ctx, &EngineConfig{Type: "raid"}, meta, nil)
	if err == nil {
		t.Fatal("Expected error for unknown engine type")
	}
}
