// Command gen_gguf writes a header-only GGUF file for exercising
// `quarrel-chat inspect` and the model checks in `serve` without a real
// model download. llama-server cannot load it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/23skdu/quarrel-chat/internal/gguf"
)

func main() {
	out := flag.String("out", "test.gguf", "Output path")
	arch := flag.String("arch", "qwen2", "general.architecture")
	name := flag.String("name", "Qwen2.5 1.5B Instruct", "general.name")
	ctx := flag.Uint("ctx", 32768, "Trained context length")
	fileType := flag.Uint("file-type", 15, "general.file_type (15 is Q4_K_M)")
	template := flag.String("chat-template", "{% for message in messages %}{{ message.content }}{% endfor %}", "tokenizer.chat_template")
	flag.Parse()

	b := &gguf.Builder{}
	b.Str("general.architecture", *arch).
		Str("general.name", *name).
		Uint32("general.file_type", uint32(*fileType)).
		Uint32(*arch+".context_length", uint32(*ctx))
	if *template != "" {
		b.Str("tokenizer.chat_template", *template)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *out, err)
		os.Exit(1)
	}
	if err := b.Encode(f, 3, 0); err != nil {
		_ = f.Close()
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%s, context %d)\n", *out, *arch, *ctx)
}
