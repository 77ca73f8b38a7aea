package agent

import (
	"fmt"
	"strings"
	"time"
)

var capabilityHints = map[Kind]string{
	KindSearchDocuments: "search_documents: find passages in the user's documents. Use it for questions about document content. " +
		"Narrow it with metadata_filter when the user names a topic or document type.",
	KindQueryDatabase: "query_database: run a SELECT over document records. Use it for counts, lists, statuses, sizes and other " +
		"questions about the collection itself rather than its text.",
	KindAnalyzeDocument: "analyze_document: delegate a task on one whole document (summaries, detailed extraction, comparisons " +
		"within the document). Find the document_id with query_database or search_documents first.",
	KindWebSearch: "web_search: look up current or external information that the documents do not contain.",
}

// systemPrompt lists the offered capabilities, the queryable schema and today's date
func systemPrompt(kinds []Kind, schema string, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that answers questions about the user's uploaded documents.\n\n")
	fmt.Fprintf(&b, "Today's date is %s.\n\n", now.Format("Monday, January 2, 2006"))

	b.WriteString("You can use these tools:\n")
	for _, k := range kinds {
		if hint, ok := capabilityHints[k]; ok {
			b.WriteString("- " + hint + "\n")
		}
	}

	b.WriteString("\nGround your answers in tool results and mention which documents they come from. ")
	b.WriteString("If the tools return nothing relevant, say so instead of guessing.\n\n")
	b.WriteString(schema)
	return b.String()
}

// threadTitle derives a title from the first user message
func threadTitle(message string, maxRunes int) string {
	runes := []rune(message)
	if len(runes) <= maxRunes {
		return message
	}
	return string(runes[:maxRunes]) + "..."
}
