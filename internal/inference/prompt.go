package inference

import (
	"fmt"
	"strings"

	"github.com/knova/knova/internal/vector"
)

// NotFoundPhrase is the fixed phrase the model is instructed to emit when
// the answer is absent from the supplied context.
const NotFoundPhrase = "Information not found in provided documents."

// chunkDelimiter separates context chunks in the rendered prompt.
const chunkDelimiter = "\n\n---\n\n"

// Message is one prior conversational turn fed into the prompt window.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// BuildPrompt renders the prompt for a turn. With usable context chunks it
// produces a constrained instruction prompt that answers only from context;
// without context it falls back to a bare conversational prompt.
func BuildPrompt(query string, chunks []vector.Result, history []Message, maxDocs int) string {
	context := renderContext(chunks, maxDocs)
	if context == "" {
		return buildChatPrompt(query, history)
	}

	var b strings.Builder
	b.WriteString("You are an internal company AI assistant.\n")
	b.WriteString("Answer ONLY using the context below.\n")
	fmt.Fprintf(&b, "If the answer is not found, respond: %q\n\n", NotFoundPhrase)

	if h := renderHistory(history); h != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(h)
		b.WriteString("\n\n")
	}

	b.WriteString("Context:\n")
	b.WriteString(context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nInstructions:\n")
	b.WriteString("- Be concise but comprehensive\n")
	b.WriteString("- Cite specific documents when possible\n")
	b.WriteString("- If the context doesn't contain relevant information, say so clearly\n")
	b.WriteString("- Do not make up information not present in the context\n")
	return b.String()
}

func buildChatPrompt(query string, history []Message) string {
	var b strings.Builder
	b.WriteString("You are a helpful AI knowledge assistant for an internal company system.\n")
	if h := renderHistory(history); h != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(h)
		b.WriteString("\n")
	}
	b.WriteString(query)
	return b.String()
}

// renderContext formats up to maxDocs non-empty chunks, each prefixed with a
// source header.
func renderContext(chunks []vector.Result, maxDocs int) string {
	if maxDocs <= 0 {
		maxDocs = 5
	}

	var parts []string
	for _, r := range chunks {
		if len(parts) >= maxDocs {
			break
		}
		content := strings.TrimSpace(r.Chunk.Content)
		if content == "" {
			continue
		}
		parts = append(parts, sourceHeader(r.Chunk)+"\n"+content)
	}
	return strings.Join(parts, chunkDelimiter)
}

// sourceHeader builds the "[Source: ...]" line for a chunk.
func sourceHeader(ch vector.Chunk) string {
	name := ch.Filename
	if name == "" {
		name = fmt.Sprintf("Document %d", ch.DocumentID)
	}
	header := "[Source: " + name
	if ch.PageNumber > 0 {
		header += fmt.Sprintf(", Page %d", ch.PageNumber)
	}
	if ch.SectionTitle != "" {
		header += ", Section: " + ch.SectionTitle
	}
	return header + "]"
}

func renderHistory(history []Message) string {
	var lines []string
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		lines = append(lines, m.Role+": "+content)
	}
	return strings.Join(lines, "\n")
}
