package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/lexclaim/internal/account"
	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/auth"
	"github.com/ent0n29/lexclaim/internal/config"
	"github.com/ent0n29/lexclaim/internal/document"
	"github.com/ent0n29/lexclaim/internal/httpapi"
	"github.com/ent0n29/lexclaim/internal/issue"
	"github.com/ent0n29/lexclaim/internal/observability"
	"github.com/ent0n29/lexclaim/internal/session"
	"github.com/ent0n29/lexclaim/internal/transcript"
)

type BuildResult struct {
	Config     config.Config
	Client     *apiclient.Client
	Sessions   *session.Store
	Transcript transcript.Store
	Auth       *auth.Service
	Account    *account.Service
	API        *httpapi.Server
	Metrics    *observability.Metrics
	Logger     *slog.Logger

	// Cleanup releases the session database and the transcript archive.
	Cleanup func() error
}

// Build wires every component from cfg. navigator may be nil, in which case
// a rejected session is only logged.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, navigator apiclient.Navigator) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sessions, err := session.Open(cfg.SessionBackend, cfg.SessionDir, metrics, logger.With("component", "session"))
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	archive, err := transcript.NewStore(ctx, cfg.DatabaseURL, cfg.TranscriptDir, cfg.TranscriptRedactPII)
	if err != nil {
		_ = sessions.Close()
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	if navigator == nil {
		navigator = apiclient.NavigatorFunc(func(_ context.Context, cause error) {
			logger.Warn("session rejected by server, sign in again", "error", cause)
		})
	}
	client := apiclient.New(sessions, apiclient.Options{
		BaseURL:           cfg.APIBaseURL,
		Timeout:           cfg.RequestTimeout,
		GuestTokenHeader:  cfg.GuestTokenHeader,
		AnonymousHeader:   cfg.AnonymousHeader,
		OAuthProviderPath: cfg.OAuthProviderPath,
		Navigator:         navigator,
		Metrics:           metrics,
		Logger:            logger.With("component", "apiclient"),
	})

	authSvc := auth.NewService(sessions, client, logger.With("component", "auth"))
	accountSvc := account.NewService(client)

	res := &BuildResult{
		Config:     cfg,
		Client:     client,
		Sessions:   sessions,
		Transcript: archive,
		Auth:       authSvc,
		Account:    accountSvc,
		Metrics:    metrics,
		Logger:     logger,
	}
	res.API = httpapi.New(cfg, authSvc, accountSvc, res, metrics, logger.With("component", "httpapi"))
	res.Cleanup = func() error {
		return errors.Join(archive.Close(), sessions.Close())
	}
	return res, nil
}

// NewController creates a controller for one view.
func (b *BuildResult) NewController(onChange func(issue.Conversation)) *issue.Controller {
	return issue.NewController(b.Client, b.Sessions, issue.Options{
		AllowAnonymous: b.Config.AllowAnonymous,
		KickoffMessage: b.Config.KickoffMessage,
		Transcript:     b.Transcript,
		Metrics:        b.Metrics,
		Logger:         b.Logger.With("component", "issue"),
		OnChange:       onChange,
	})
}

func (b *BuildResult) NewRetriever(conversations document.Conversations) *document.Retriever {
	return document.NewRetriever(
		b.Client,
		conversations,
		document.DirSaver{Dir: b.Config.DownloadDir},
		b.Metrics,
		b.Logger.With("component", "document"),
	)
}
