package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aimerfeng/docagent/internal/ingestion"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
)

var ingestNoWait bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Upload and process a document",
	Long: `Stores the file, then chunks, embeds and describes it. Waits for processing
to finish unless --no-wait is given. Uploading identical bytes again is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestNoWait, "no-wait", false, "return once the file is stored")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	svc, release, err := open(cmd)
	if err != nil {
		return err
	}
	defer release()

	ctx := cmd.Context()
	res, err := svc.Documents.Upload(ctx, userID, ingestion.FileHeader{
		Filename: filepath.Base(args[0]),
		MimeType: strings.TrimSpace(strings.Split(mimetype.Detect(data).String(), ";")[0]),
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	doc := res.Document
	if res.Duplicate {
		cmd.Printf("Duplicate of %s (%s), nothing to do\n", doc.ID, doc.Status)
		return nil
	}
	cmd.Printf("Stored %s as %s\n", doc.Filename, doc.ID)
	if ingestNoWait {
		return nil
	}

	if err := svc.Documents.Wait(ctx); err != nil {
		return fmt.Errorf("interrupted while processing: %w", err)
	}
	doc, err = svc.Documents.Get(ctx, userID, doc.ID)
	if err != nil {
		return err
	}

	if doc.Status == models.DocumentStatusError {
		msg := "unknown error"
		if doc.ErrorMessage != nil {
			msg = *doc.ErrorMessage
		}
		return fmt.Errorf("processing failed: %s", msg)
	}

	cmd.Printf("Status: %s, %d chunks\n", doc.Status, doc.ChunkCount)
	if doc.Metadata != nil {
		cmd.Printf("Topic: %s (%s, %s)\n", doc.Metadata.Topic, doc.Metadata.DocumentType, doc.Metadata.Language)
	}
	return nil
}
