// Package cli implements the ragctl command tree.
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/aimerfeng/docagent/internal/ingestion"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/search"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// DocumentIngester uploads documents and reports on their processing
type DocumentIngester interface {
	Upload(ctx context.Context, userID string, file ingestion.FileHeader) (*ingestion.UploadResult, error)
	Get(ctx context.Context, userID string, docID uuid.UUID) (*models.Document, error)
	Wait(ctx context.Context) error
}

// Searcher runs retrieval over a user's documents
type Searcher interface {
	Search(ctx context.Context, query, userID string, opts search.Options) (*search.Result, error)
}

// ModelLister lists the model service catalog
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// Services are the database-backed components commands run against
type Services struct {
	Documents DocumentIngester
	Searcher  Searcher
	// ActiveModel is used for reranking
	ActiveModel string
}

// Connector opens Services; release closes them
type Connector func(ctx context.Context) (svc *Services, release func(), err error)

var (
	connect     Connector
	catalog     ModelLister
	activeModel string

	userID string
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Operate a docagent document collection",
	Long: `ragctl ingests documents, runs searches and checks SQL statements against
the same database and model service the API server uses.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("RAGCTL_USER"), "user ID that owns the documents")
}

// SetConnector configures how commands reach the database-backed services
func SetConnector(c Connector) {
	connect = c
}

// SetCatalog configures the model catalog and the currently active model
func SetCatalog(lister ModelLister, active string) {
	catalog = lister
	activeModel = active
}

// Execute runs the command tree, cancelling on SIGINT/SIGTERM
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func open(cmd *cobra.Command) (*Services, func(), error) {
	if connect == nil {
		return nil, nil, errors.New("services not configured")
	}
	return connect(cmd.Context())
}

func requireUser() error {
	if userID == "" {
		return errors.New("--user is required")
	}
	return nil
}
