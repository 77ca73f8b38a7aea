// Package sqlsandbox validates, tenant-scopes and executes model-written
// analytical queries against the document tables.
package sqlsandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
)

var (
	ErrNotSelect         = errors.New("Only SELECT statements are allowed")
	ErrDisallowedKeyword = errors.New("Statement contains disallowed keywords")
	ErrTableNotAllowed   = errors.New("table not allowed")
)

// AllowedTables is the fixed allow-list, in the order reported to callers
var AllowedTables = []string{"documents", "document_chunks"}

var (
	trailingTerminators = regexp.MustCompile(`;+$`)
	selectPrefix        = regexp.MustCompile(`(?i)^select\s`)
	disallowedKeywords  = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|execute|exec)\b`)
	tableReference      = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
	tenantColumn        = regexp.MustCompile(`(?i)user_id`)
	whereClause         = regexp.MustCompile(`(?i)\bwhere\b`)
	trailingClause      = regexp.MustCompile(`(?i)\b(group\s+by|order\s+by|limit|having)\b`)
)

// TableError names the table that failed the allow-list
type TableError struct {
	Table string
}

func (e *TableError) Error() string {
	return fmt.Sprintf("Table %q is not allowed. Allowed tables: %s", e.Table, strings.Join(AllowedTables, ", "))
}

func (e *TableError) Unwrap() error { return ErrTableNotAllowed }

// ValidateAndRewrite applies the firewall rules in order and returns the
// statement with the tenant predicate injected.
func ValidateAndRewrite(sql, userID string) (string, error) {
	normalized := trailingTerminators.ReplaceAllString(strings.TrimSpace(sql), "")

	if !selectPrefix.MatchString(normalized) {
		return "", ErrNotSelect
	}
	if disallowedKeywords.MatchString(normalized) {
		return "", ErrDisallowedKeyword
	}

	for _, m := range tableReference.FindAllStringSubmatch(normalized, -1) {
		if !allowed(strings.ToLower(m[1])) {
			return "", &TableError{Table: m[1]}
		}
	}

	if tenantColumn.MatchString(normalized) {
		return normalized, nil
	}

	predicate := fmt.Sprintf("documents.user_id = '%s'", strings.ReplaceAll(userID, "'", "''"))
	if loc := whereClause.FindStringIndex(normalized); loc != nil {
		return normalized[:loc[0]] + "WHERE " + predicate + " AND" + normalized[loc[1]:], nil
	}
	if loc := trailingClause.FindStringIndex(normalized); loc != nil {
		return normalized[:loc[0]] + "WHERE " + predicate + " " + normalized[loc[0]:], nil
	}
	return normalized + " WHERE " + predicate, nil
}

func allowed(table string) bool {
	for _, t := range AllowedTables {
		if t == table {
			return true
		}
	}
	return false
}

// rejectionReason maps validation errors onto a metric label
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNotSelect):
		return "not_select"
	case errors.Is(err, ErrDisallowedKeyword):
		return "keyword"
	case errors.Is(err, ErrTableNotAllowed):
		return "table"
	default:
		return "other"
	}
}

// TxBeginner is satisfied by *pgxpool.Pool
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Result is the outcome of an executed query
type Result struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
	SQL      string           `json:"sql"`
}

// Sandbox executes validated statements in a read-only, row-capped transaction
type Sandbox struct {
	db      TxBeginner
	rowCap  int
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a sandbox
func New(db TxBeginner, cfg *config.SQLConfig) *Sandbox {
	rowCap := cfg.RowCap
	if rowCap <= 0 {
		rowCap = 100
	}
	timeout := cfg.StatementTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sandbox{
		db:      db,
		rowCap:  rowCap,
		timeout: timeout,
		logger:  logging.NewLogger("sqlsandbox"),
	}
}

// Execute validates sql for userID and runs it. Validation errors are returned
// unwrapped so their message can be shown to the model as is.
func (s *Sandbox) Execute(ctx context.Context, sql, userID string) (*Result, error) {
	rewritten, err := ValidateAndRewrite(sql, userID)
	if err != nil {
		monitoring.RecordSQLRejection(rejectionReason(err))
		s.logger.Info().Err(err).Str("sql", logging.SanitizeForLog(sql, 300)).Msg("Statement rejected")
		return nil, err
	}

	start := time.Now()
	defer func() { monitoring.RecordDBQuery("sandbox", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", s.timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	rows, err := tx.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS sandboxed LIMIT %d", rewritten, s.rowCap))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(values))
		for i, v := range values {
			row[fields[i].Name] = jsonValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug().Int("rows", len(out)).Dur("latency", time.Since(start)).Msg("Statement executed")
	return &Result{Rows: out, RowCount: len(out), SQL: rewritten}, nil
}

// jsonValue converts driver values into forms encoding/json renders sensibly
func jsonValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return string(val)
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgvector.Vector:
		return val.Slice()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// SchemaDescription describes the queryable tables for the system prompt
func SchemaDescription() string {
	return `Available tables for SQL queries:

TABLE: documents
  - id (uuid, primary key)
  - filename (text): original file name
  - file_type (text): file extension (pdf, docx, txt, md, html)
  - file_size (bigint): size in bytes
  - status (text): 'pending', 'processing', 'extracting', 'completed', 'error', 'duplicate'
  - chunk_count (integer): number of chunks
  - page_count (integer, nullable): pages, for PDFs
  - metadata (jsonb): extracted metadata with fields: topic, document_type, key_entities, summary, language
  - created_at (timestamptz)
  - updated_at (timestamptz)

TABLE: document_chunks
  - id (uuid, primary key)
  - document_id (uuid, foreign key to documents.id)
  - content (text): chunk text content
  - chunk_index (integer): position in document
  - content_hash (text): SHA-256 hash of content
  - created_at (timestamptz)

You can JOIN these tables on document_chunks.document_id = documents.id.
Always include the documents table in the FROM clause.
Do NOT reference user_id. It is filtered automatically.`
}
