package local_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

func TestLocalConnection_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := local.NewProvider().Connect("files", storageConfig(t))
	require.NoError(t, err)

	require.NoError(t, conn.Upload(ctx, "in", "b/two.jsonl", strings.NewReader("2\n")))
	require.NoError(t, conn.Upload(ctx, "in", "a/one.jsonl", strings.NewReader("1\n")))
	require.NoError(t, conn.Upload(ctx, "in", "a/one.jsonl", strings.NewReader("one\n")))

	rc, err := conn.Download(ctx, "in", "a/one.jsonl")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(data))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "in", "", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"a/one.jsonl", "b/two.jsonl"}, names)

	names = nil
	require.NoError(t, conn.ListObjects(ctx, "in", "b/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"b/two.jsonl"}, names)

	require.NoError(t, conn.DeleteObject(ctx, "in", "a/one.jsonl"))
	require.NoError(t, conn.DeleteObject(ctx, "in", "a/one.jsonl"))
	_, err = conn.Download(ctx, "in", "a/one.jsonl")
	assert.Error(t, err)
}

func TestLocalConnection_RejectsEscapingPaths(t *testing.T) {
	conn, err := local.NewConnection("files", storageConfig(t))
	require.NoError(t, err)
	_, err = conn.Download(context.Background(), "", "../../etc/passwd")
	assert.ErrorContains(t, err, "outside of base_dir")
}

func TestResolver_OpensConfiguredConnectionsOnce(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Storage["files"] = map[string]interface{}{"type": "local", "base_dir": t.TempDir()}
	cfg.Chunkflow.Storage["remote"] = map[string]interface{}{"type": "gcs"}
	r := storage.NewConnectionResolver(storage.ResolverParams{
		Providers: []storage.Provider{local.NewProvider()},
		Cfg:       cfg,
	})
	t.Cleanup(func() { _ = r.CloseAll() })

	first, err := r.ResolveStorageConnection(context.Background(), "files")
	require.NoError(t, err)
	second, err := r.ResolveStorageConnection(context.Background(), "files")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "local", first.Type())

	_, err = r.ResolveStorageConnection(context.Background(), "remote")
	assert.ErrorContains(t, err, "no provider for storage type 'gcs'")
	_, err = r.ResolveStorageConnection(context.Background(), "missing")
	assert.ErrorContains(t, err, "not found")
}

func storageConfig(t *testing.T) storageconfig.StorageConfig {
	return storageconfig.StorageConfig{Type: "local", BaseDir: t.TempDir()}
}
