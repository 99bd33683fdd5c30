package ollama

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		in   string
		want Reference
	}{
		{"qwen2.5", Reference{DefaultRegistry, DefaultNamespace, "qwen2.5", "latest"}},
		{"ollama:qwen2.5:1.5b", Reference{DefaultRegistry, DefaultNamespace, "qwen2.5", "1.5b"}},
		{"gemma3:1b-it-q4_K_M", Reference{DefaultRegistry, DefaultNamespace, "gemma3", "1b-it-q4_K_M"}},
		{"someone/phi3:mini", Reference{DefaultRegistry, "someone", "phi3", "mini"}},
		{
			"hf.co/bartowski/Phi-3-mini-4k-instruct-GGUF:Q4_K_M",
			Reference{"hf.co", "bartowski", "Phi-3-mini-4k-instruct-GGUF", "Q4_K_M"},
		},
		{"localhost:5000/team/model", Reference{"localhost:5000", "team", "model", "latest"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReference(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReferenceInvalid(t *testing.T) {
	for _, in := range []string{"", "ollama:", "a/b/c/d", "model:", "/model", "ns//model"} {
		_, err := ParseReference(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestReferenceString(t *testing.T) {
	ref, err := ParseReference("qwen2.5")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:latest", ref.String())

	ref, err = ParseReference("hf.co/bartowski/model:Q4_K_M")
	require.NoError(t, err)
	assert.Equal(t, "hf.co/bartowski/model:Q4_K_M", ref.String())
}

func TestModelsDir(t *testing.T) {
	t.Setenv("OLLAMA_MODELS", "/custom/ollama/models")
	dir, err := ModelsDir()
	require.NoError(t, err)
	assert.Equal(t, "/custom/ollama/models", dir)

	t.Setenv("OLLAMA_MODELS", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	dir, err = ModelsDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ollama", "models"), dir)
}

func TestBlobName(t *testing.T) {
	assert.Equal(t, "sha256-abc123", BlobName("sha256:abc123"))
	assert.Equal(t, "plain", BlobName("plain"))
}

// writeStore lays out a fake Ollama models directory with one pulled model.
func writeStore(t *testing.T, manifest string, withBlob bool) string {
	t.Helper()
	dir := t.TempDir()

	manifestDir := filepath.Join(dir, "manifests", DefaultRegistry, DefaultNamespace, "qwen2.5")
	require.NoError(t, os.MkdirAll(manifestDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(manifestDir, "1.5b"), []byte(manifest), 0o644))

	if withBlob {
		blobs := filepath.Join(dir, "blobs")
		require.NoError(t, os.MkdirAll(blobs, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(blobs, "sha256-abc123"), []byte("GGUF"), 0o644))
	}
	return dir
}

const validManifest = `{
	"schemaVersion": 2,
	"layers": [
		{"mediaType": "application/vnd.ollama.image.template", "digest": "sha256:tmpl", "size": 10},
		{"mediaType": "application/vnd.ollama.image.model", "digest": "sha256:abc123", "size": 1234567}
	]
}`

func TestResolverResolve(t *testing.T) {
	dir := writeStore(t, validManifest, true)
	r := &Resolver{Dir: dir}

	ref, err := ParseReference("qwen2.5:1.5b")
	require.NoError(t, err)

	path, err := r.Resolve(ref)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "blobs", "sha256-abc123"), path)
}

func TestResolverErrors(t *testing.T) {
	ref, err := ParseReference("qwen2.5:1.5b")
	require.NoError(t, err)

	t.Run("missing manifest", func(t *testing.T) {
		r := &Resolver{Dir: t.TempDir()}
		_, err := r.Resolve(ref)
		assert.True(t, errors.Is(err, ErrManifestNotFound), "got %v", err)
	})

	t.Run("no model layer", func(t *testing.T) {
		dir := writeStore(t, `{"schemaVersion":2,"layers":[]}`, true)
		_, err := (&Resolver{Dir: dir}).Resolve(ref)
		assert.True(t, errors.Is(err, ErrNoModelLayer), "got %v", err)
	})

	t.Run("missing blob", func(t *testing.T) {
		dir := writeStore(t, validManifest, false)
		_, err := (&Resolver{Dir: dir}).Resolve(ref)
		assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
	})

	t.Run("corrupt manifest", func(t *testing.T) {
		dir := writeStore(t, `{not json`, true)
		_, err := (&Resolver{Dir: dir}).Resolve(ref)
		assert.ErrorContains(t, err, "parse manifest")
	})
}

func TestResolveModelPath(t *testing.T) {
	dir := writeStore(t, validManifest, true)
	t.Setenv("OLLAMA_MODELS", dir)

	path, err := ResolveModelPath("/models/qwen.gguf")
	require.NoError(t, err)
	assert.Equal(t, "/models/qwen.gguf", path)

	path, err = ResolveModelPath("ollama:qwen2.5:1.5b")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "blobs", "sha256-abc123"), path)

	assert.True(t, IsReference("ollama:x"))
	assert.False(t, IsReference("x.gguf"))
}
