package gguf

import (
	"fmt"
	"sort"
	"strings"
)

// Summary is the subset of GGUF metadata relevant to serving a chat model.
type Summary struct {
	Version         uint32 `json:"version"`
	Architecture    string `json:"architecture"`
	Name            string `json:"name,omitempty"`
	ContextLength   int    `json:"context_length"`
	EmbeddingLength int    `json:"embedding_length,omitempty"`
	BlockCount      int    `json:"block_count,omitempty"`
	FileType        string `json:"file_type,omitempty"`
	TensorCount     uint64 `json:"tensor_count"`
	HasChatTemplate bool   `json:"has_chat_template"`
}

// Summary extracts the serving-relevant fields. A missing context length is
// reported as 0.
func (m *Metadata) Summary() Summary {
	s := Summary{
		Version:     m.Header.Version,
		TensorCount: m.Header.TensorCount,
	}

	s.Architecture = m.StringValue("general.architecture")
	s.Name = m.StringValue("general.name")
	s.ContextLength = int(m.UintValue(s.Architecture+".context_length", "general.context_length"))
	s.EmbeddingLength = int(m.UintValue(s.Architecture+".embedding_length", s.Architecture+".hidden_size"))
	s.BlockCount = int(m.UintValue(s.Architecture+".block_count"))

	if _, ok := m.KV["general.file_type"]; ok {
		s.FileType = FileType(m.UintValue("general.file_type")).String()
	}
	s.HasChatTemplate = m.StringValue("tokenizer.chat_template") != ""

	return s
}

// Keys returns the metadata keys in sorted order.
func (m *Metadata) Keys() []string {
	keys := make([]string, 0, len(m.KV))
	for k := range m.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StringValue returns the string value stored under key, or "".
func (m *Metadata) StringValue(key string) string {
	v, _ := m.KV[key].(string)
	return v
}

// UintValue returns the first integer value found under keys, or 0.
func (m *Metadata) UintValue(keys ...string) uint64 {
	for _, key := range keys {
		switch v := m.KV[key].(type) {
		case uint64:
			return v
		case int64:
			return uint64(v)
		case uint32:
			return uint64(v)
		case int32:
			return uint64(v)
		case uint16:
			return uint64(v)
		case uint8:
			return uint64(v)
		}
	}
	return 0
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "GGUF Model Summary\n")
	fmt.Fprintf(&b, "==================\n")
	fmt.Fprintf(&b, "Version:          %d\n", s.Version)
	fmt.Fprintf(&b, "Architecture:     %s\n", s.Architecture)
	fmt.Fprintf(&b, "Model Name:       %s\n", s.Name)
	fmt.Fprintf(&b, "Context Length:   %d\n", s.ContextLength)
	fmt.Fprintf(&b, "Embedding Length: %d\n", s.EmbeddingLength)
	fmt.Fprintf(&b, "Blocks:           %d\n", s.BlockCount)
	fmt.Fprintf(&b, "File Type:        %s\n", s.FileType)
	fmt.Fprintf(&b, "Tensors:          %d\n", s.TensorCount)
	fmt.Fprintf(&b, "Chat Template:    %t\n", s.HasChatTemplate)
	return b.String()
}
