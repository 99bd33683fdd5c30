// Package ollama locates GGUF blobs that were pulled with Ollama, so a profile
// can point llama-server at "ollama:qwen2.5:1.5b" instead of a file path.
package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Prefix marks a model path as an Ollama reference.
	Prefix = "ollama:"

	DefaultRegistry  = "registry.ollama.ai"
	DefaultNamespace = "library"
	DefaultTag       = "latest"
	MediaTypeModel   = "application/vnd.ollama.image.model"
)

var (
	ErrManifestNotFound = errors.New("ollama manifest not found")
	ErrNoModelLayer     = errors.New("ollama manifest has no model layer")
)

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// Reference is a parsed model name such as "qwen2.5:1.5b" or
// "hf.co/bartowski/Phi-3-mini-4k-instruct-GGUF:Q4_K_M".
type Reference struct {
	Registry  string
	Namespace string
	Name      string
	Tag       string
}

// ParseReference splits name into its registry, namespace, model and tag,
// filling in Ollama's defaults for the parts that are missing.
func ParseReference(name string) (Reference, error) {
	name = strings.TrimSpace(strings.TrimPrefix(name, Prefix))
	if name == "" {
		return Reference{}, fmt.Errorf("empty ollama model name")
	}

	ref := Reference{Registry: DefaultRegistry, Namespace: DefaultNamespace, Tag: DefaultTag}

	if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") {
		ref.Tag = name[i+1:]
		name = name[:i]
	}

	parts := strings.Split(name, "/")
	switch len(parts) {
	case 1:
		ref.Name = parts[0]
	case 2:
		ref.Namespace, ref.Name = parts[0], parts[1]
	case 3:
		ref.Registry, ref.Namespace, ref.Name = parts[0], parts[1], parts[2]
	default:
		return Reference{}, fmt.Errorf("invalid ollama model name %q", name)
	}

	for _, p := range []string{ref.Registry, ref.Namespace, ref.Name, ref.Tag} {
		if p == "" {
			return Reference{}, fmt.Errorf("invalid ollama model name %q", name)
		}
	}
	return ref, nil
}

func (r Reference) String() string {
	if r.Registry == DefaultRegistry && r.Namespace == DefaultNamespace {
		return r.Name + ":" + r.Tag
	}
	return r.Registry + "/" + r.Namespace + "/" + r.Name + ":" + r.Tag
}

// ModelsDir returns $OLLAMA_MODELS, or ~/.ollama/models when it is unset.
func ModelsDir() (string, error) {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ollama", "models"), nil
}

// Resolver maps references to blob paths under an Ollama models directory.
type Resolver struct {
	Dir string
}

// NewResolver returns a Resolver rooted at ModelsDir.
func NewResolver() (*Resolver, error) {
	dir, err := ModelsDir()
	if err != nil {
		return nil, err
	}
	return &Resolver{Dir: dir}, nil
}

// Resolve returns the GGUF blob path for ref.
func (r *Resolver) Resolve(ref Reference) (string, error) {
	manifestPath := filepath.Join(r.Dir, "manifests", ref.Registry, ref.Namespace, ref.Name, ref.Tag)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s (expected %s)", ErrManifestNotFound, ref, manifestPath)
		}
		return "", err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("parse manifest %s: %w", manifestPath, err)
	}

	digest := m.ModelDigest()
	if digest == "" {
		return "", fmt.Errorf("%w: %s", ErrNoModelLayer, ref)
	}

	blobPath := filepath.Join(r.Dir, "blobs", BlobName(digest))
	if _, err := os.Stat(blobPath); err != nil {
		return "", fmt.Errorf("model blob for %s: %w", ref, err)
	}
	return blobPath, nil
}

// ModelDigest returns the digest of the first model layer, or "".
func (m Manifest) ModelDigest() string {
	for _, l := range m.Layers {
		if l.MediaType == MediaTypeModel {
			return l.Digest
		}
	}
	return ""
}

// BlobName converts a digest "sha256:abc" to its on-disk name "sha256-abc".
func BlobName(digest string) string {
	return strings.Replace(digest, ":", "-", 1)
}

// IsReference reports whether a configured model path names an Ollama model.
func IsReference(path string) bool {
	return strings.HasPrefix(path, Prefix)
}

// ResolveModelPath returns path unchanged unless it carries the "ollama:"
// prefix, in which case the reference is resolved to its blob.
func ResolveModelPath(path string) (string, error) {
	if !IsReference(path) {
		return path, nil
	}
	ref, err := ParseReference(path)
	if err != nil {
		return "", err
	}
	r, err := NewResolver()
	if err != nil {
		return "", err
	}
	return r.Resolve(ref)
}
