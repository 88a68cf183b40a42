package session

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/codementor/ragindex/internal/indexer"
	"github.com/codementor/ragindex/internal/retriever"
	"github.com/codementor/ragindex/internal/vectorstore"
)

// PromptBuilder assembles the final prompt from retrieved chunks
type PromptBuilder interface {
	BuildPrompt(systemPrompt, query string, chunks []retriever.RetrievalResult) string
}

// DefaultPromptBuilder numbers the chunks in retrieval order, each fenced
// and labelled with its source, between the system prompt and the question.
type DefaultPromptBuilder struct{}

// BuildPrompt implements PromptBuilder
func (DefaultPromptBuilder) BuildPrompt(systemPrompt, query string, chunks []retriever.RetrievalResult) string {
	var sb strings.Builder
	sb.WriteString("You are an assistant specializing in context analysis.\n")
	if s := strings.TrimSpace(systemPrompt); s != "" {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(buildContext(chunks))

	fmt.Fprintf(&sb, "Question: %s\n", strings.TrimSpace(query))
	sb.WriteString(`
Instructions:
1. Answer based on the provided extracts
2. If the extracts don't contain enough information, say so
3. Reference the source files when relevant`)
	return sb.String()
}

// buildContext builds the context string from retrieved chunks
func buildContext(chunks []retriever.RetrievalResult) string {
	var sb strings.Builder
	sb.WriteString("Use the following extracts to respond precisely:\n\n")

	for i, c := range chunks {
		path := c.Path()
		if path == "" {
			path = "unknown"
		}
		lang := indexer.GetLanguage(filepath.Ext(path))
		if lang == "unknown" {
			lang = ""
		}

		fmt.Fprintf(&sb, "--- Extract %d ---\n", i+1)
		fmt.Fprintf(&sb, "File: %s (chunk %d)\n", path, vectorstore.PayloadInt(c.Metadata, vectorstore.KeyChunkIndex))
		fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", lang, strings.TrimSpace(c.Text))
	}

	return sb.String()
}
