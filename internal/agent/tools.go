package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/go-playground/validator/v10"
)

// Kind identifies a capability the model can invoke
type Kind int

const (
	KindUnknown Kind = iota
	KindSearchDocuments
	KindQueryDatabase
	KindAnalyzeDocument
	KindWebSearch
	KindSearchWithinDocument
)

var kindNames = map[Kind]string{
	KindSearchDocuments:      "search_documents",
	KindQueryDatabase:        "query_database",
	KindAnalyzeDocument:      "analyze_document",
	KindWebSearch:            "web_search",
	KindSearchWithinDocument: "search_within_document",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind resolves a tool name from the model. Only kinds in the offered
// set are accepted.
func ParseKind(name string, offered []Kind) Kind {
	for _, k := range offered {
		if kindNames[k] == name {
			return k
		}
	}
	return KindUnknown
}

// Tool arguments

type SearchDocumentsArgs struct {
	Query          string                 `json:"query" validate:"required"`
	Limit          int                    `json:"limit" validate:"omitempty,min=1,max=20"`
	MetadataFilter *models.MetadataFilter `json:"metadata_filter"`
}

type QueryDatabaseArgs struct {
	SQL string `json:"sql" validate:"required"`
}

type AnalyzeDocumentArgs struct {
	DocumentID string `json:"document_id" validate:"required,uuid"`
	Task       string `json:"task" validate:"required"`
}

type WebSearchArgs struct {
	Query      string `json:"query" validate:"required"`
	MaxResults int    `json:"max_results" validate:"omitempty,min=1,max=10"`
}

type SearchWithinDocumentArgs struct {
	Query string `json:"query" validate:"required"`
}

var validate = validator.New()

// ErrInvalidArguments is returned when a tool call's arguments cannot be used
var ErrInvalidArguments = errors.New("invalid arguments")

// decodeArgs parses and validates raw JSON arguments into dst
func decodeArgs(raw string, dst any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

var toolSpecs = map[Kind]llm.FunctionSpec{
	KindSearchDocuments: {
		Name:        "search_documents",
		Description: "Search the user's uploaded documents for passages relevant to a query. Returns the most relevant chunks with their source filenames.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "What to search for"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Maximum number of chunks to return (default 5)"},
				"metadata_filter": {
					"type": "object",
					"description": "Restrict the search to documents whose extracted metadata matches",
					"properties": {
						"topic": {"type": "string", "description": "Substring of the document topic"},
						"document_type": {"type": "string", "enum": ["article", "report", "tutorial", "documentation", "email", "memo", "legal", "academic", "other"]}
					}
				}
			},
			"required": ["query"]
		}`),
	},
	KindQueryDatabase: {
		Name:        "query_database",
		Description: "Run a read-only SQL SELECT statement over the documents and document_chunks tables. Use it for counts, listings and aggregates about the user's documents.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sql": {"type": "string", "description": "A single SELECT statement"}
			},
			"required": ["sql"]
		}`),
	},
	KindAnalyzeDocument: {
		Name:        "analyze_document",
		Description: "Hand one document to a focused analysis assistant that reads its full text and performs a task on it, such as summarizing or extracting details.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"document_id": {"type": "string", "description": "ID of the document to analyze"},
				"task": {"type": "string", "description": "What to do with the document"}
			},
			"required": ["document_id", "task"]
		}`),
	},
	KindWebSearch: {
		Name:        "web_search",
		Description: "Search the public web for current information that is not in the user's documents.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Maximum number of results (default 5)"}
			},
			"required": ["query"]
		}`),
	},
	KindSearchWithinDocument: {
		Name:        "search_within_document",
		Description: "Search within the current document for specific passages matching a query.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query to find relevant passages within this document"}
			},
			"required": ["query"]
		}`),
	},
}

// definitions renders the offered kinds for a chat request
func definitions(kinds []Kind) []llm.Tool {
	tools := make([]llm.Tool, 0, len(kinds))
	for _, k := range kinds {
		tools = append(tools, llm.Tool{Type: "function", Function: toolSpecs[k]})
	}
	return tools
}

// toolOutput is the result of one invocation. On failure Error is set and
// Fields holds any extra keys the error payload carries.
type toolOutput struct {
	Fields map[string]any
	Error  string
}

func failed(err error, extra map[string]any) toolOutput {
	return toolOutput{Error: err.Error(), Fields: extra}
}

// payload is what the model sees as the tool message content
func (o toolOutput) payload() string {
	out := make(map[string]any, len(o.Fields)+1)
	for k, v := range o.Fields {
		out[k] = v
	}
	if o.Error != "" {
		out["error"] = o.Error
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}
