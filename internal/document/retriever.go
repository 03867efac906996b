package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/issue"
	"github.com/ent0n29/lexclaim/internal/observability"
	"github.com/ent0n29/lexclaim/internal/reliability"
)

var ErrNotDownloadable = errors.New("document is not available for this issue")

// ErrEmptyPayload is the reliability sentinel, re-exported for callers that
// only import this package.
var ErrEmptyPayload = reliability.ErrEmptyPayload

const statusCompleted = "completed"

type Fetcher interface {
	DownloadDocument(ctx context.Context, issueID string) (apiclient.Document, error)
}

// Conversations exposes the controller's view of an issue.
type Conversations interface {
	Conversation(issueID string) (issue.Conversation, bool)
}

// Saver persists a downloaded artifact and returns where it went.
type Saver interface {
	Save(ctx context.Context, issueID string, doc apiclient.Document) (string, error)
}

type Retriever struct {
	fetcher       Fetcher
	conversations Conversations
	saver         Saver
	metrics       *observability.Metrics
	logger        *slog.Logger
}

func NewRetriever(fetcher Fetcher, conversations Conversations, saver Saver, metrics *observability.Metrics, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		fetcher:       fetcher,
		conversations: conversations,
		saver:         saver,
		metrics:       metrics,
		logger:        logger,
	}
}

// Download fetches the generated document for an ended, successful
// conversation and hands it to the saver.
func (r *Retriever) Download(ctx context.Context, issueID string) (string, error) {
	conv, ok := r.conversations.Conversation(issueID)
	if !ok || !conv.Downloadable() {
		return "", ErrNotDownloadable
	}
	return r.fetch(ctx, issueID)
}

// DownloadCompleted fetches a document listed in the account view.
func (r *Retriever) DownloadCompleted(ctx context.Context, summary apiclient.DocumentSummary) (string, error) {
	if summary.Status != statusCompleted || summary.IssueID == "" {
		return "", ErrNotDownloadable
	}
	return r.fetch(ctx, summary.IssueID)
}

func (r *Retriever) fetch(ctx context.Context, issueID string) (string, error) {
	doc, err := r.fetcher.DownloadDocument(ctx, issueID)
	if err == nil && len(doc.Data) == 0 {
		err = reliability.New(reliability.KindEmptyPayload, 0, "", nil)
	}
	if err != nil {
		r.metrics.ObserveDownload(string(reliability.KindOf(err)))
		return "", fmt.Errorf("download document %s: %w", issueID, err)
	}

	path, err := r.saver.Save(ctx, issueID, doc)
	if err != nil {
		r.metrics.ObserveDownload("save_failed")
		return "", fmt.Errorf("save document %s: %w", issueID, err)
	}
	r.metrics.ObserveDownload("")
	r.logger.Info("document saved", "issue_id", issueID, "path", path, "bytes", len(doc.Data))
	return path, nil
}
