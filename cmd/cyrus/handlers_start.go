package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	goslack "github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/ceedaragents/cyrus/internal/config"
	"github.com/ceedaragents/cyrus/internal/dispatch"
	"github.com/ceedaragents/cyrus/internal/router"
	"github.com/ceedaragents/cyrus/internal/server"
	"github.com/ceedaragents/cyrus/internal/session"
	"github.com/ceedaragents/cyrus/internal/tracker"
	"github.com/ceedaragents/cyrus/internal/tracker/linear"
	"github.com/ceedaragents/cyrus/internal/transport"
	discordtransport "github.com/ceedaragents/cyrus/internal/transport/discord"
	githubtransport "github.com/ceedaragents/cyrus/internal/transport/github"
	slacktransport "github.com/ceedaragents/cyrus/internal/transport/slack"
	trackertransport "github.com/ceedaragents/cyrus/internal/transport/tracker"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// runStart wires every package the start command needs together: the
// Configuration Manager, the Router, the Session Registry, the Dispatcher,
// each configured transport, and the Shared Application Server, then
// blocks until SIGINT/SIGTERM.
func runStart(cmd *cobra.Command, configPath, addr, adminToken string) error {
	log := slog.Default()

	mgr, err := config.NewManager(configPath, log)
	if err != nil {
		return newUserError(fmt.Errorf("load config %s: %w", configPath, err))
	}

	cfg := mgr.Get()
	rtr := router.New(cfg)
	reg := session.NewRegistry(30*time.Minute, log)
	reg.StartSweeper(5 * time.Minute)

	srv := server.New(server.Config{
		Addr:       addr,
		AdminToken: adminTokenOrEnv(adminToken),
		Logger:     log,
	})

	lnc := &launcher{log: log}

	var transports []transportHandle

	if trackerSvc, t, ok := buildTrackerTransport(log); ok {
		lnc.tracker = trackerSvc
		transports = append(transports, transportHandle{kind: activity.TransportTracker, transport: t})
		srv.RegisterTransport(t)
	}
	if api, t, ok := buildSlackTransport(log); ok {
		lnc.slackAPI = api
		transports = append(transports, transportHandle{kind: activity.TransportSlack, transport: t})
		srv.RegisterTransport(t)
	}
	if session, t, ok := buildDiscordTransport(log); ok {
		lnc.discord = session
		transports = append(transports, transportHandle{kind: activity.TransportDiscord, transport: t, start: t.Start})
		srv.RegisterTransport(t)
	}
	if ghCfg, t, ok := buildGitHubTransport(log); ok {
		lnc.github = ghCfg
		transports = append(transports, transportHandle{kind: activity.TransportGitHub, transport: t})
		srv.RegisterTransport(t)
	}

	disp := dispatch.New(cfg, rtr, reg, lnc, log)
	disp.SetLogDir(logsDir())

	mgr.Subscribe(func(diff config.Diff, newCfg *config.Config) error {
		rtr.SetConfig(newCfg)
		log.Info("config reloaded", "repositories_added", len(diff.Added), "repositories_removed", len(diff.Removed), "repositories_modified", len(diff.Modified))
		drainChangedRepositories(disp, mgr.Previous(), diff, log)
		return nil
	})
	mgr.OnError(func(err error) {
		log.Error("config rejected", "error", err)
	})

	admin := &adminHandlers{mgr: mgr, reg: reg}
	srv.HandleAdmin("/admin/config", admin.handleConfig)
	srv.HandleAdmin("/admin/repositories", admin.handleRepositories)
	srv.HandleAdmin("/admin/repositories/", admin.handleRepositories)
	srv.HandleAdmin("/admin/sessions", admin.handleSessions)
	srv.HandleCallback(handleOAuthCallback(log))

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dedupWindow := time.Duration(cfg.Dispatch.DedupWindowSeconds) * time.Second
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	dedup := transport.NewDedup(dedupWindow)

	for _, th := range transports {
		if th.start != nil {
			if err := th.start(ctx); err != nil {
				return fmt.Errorf("start %s transport: %w", th.kind, err)
			}
		}
		go pumpEvents(ctx, th, dedup, disp, log)
		go pumpErrors(ctx, th, log)
	}

	stopWatch, err := mgr.StartWatching(ctx, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer stopWatch()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start shared application server: %w", err)
	}

	log.Info("cyrus started", "addr", addr)
	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type transportHandle struct {
	kind      activity.TransportKind
	transport interface {
		Events() <-chan activity.InboundEvent
		Errors() <-chan error
	}
	start func(ctx context.Context) error
}

func pumpEvents(ctx context.Context, th transportHandle, dedup *transport.Dedup, disp *dispatch.Dispatcher, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-th.transport.Events():
			if !ok {
				return
			}
			if dedup.Seen(string(evt.TransportKind), evt.EnvelopeID) {
				continue
			}
			if err := disp.Dispatch(ctx, evt); err != nil {
				log.Error("dispatch failed", "error", err, "transport", th.kind)
			}
		}
	}
}

// drainChangedRepositories stops every live session whose repository was
// removed by this reload, or whose repositoryPath/tokenMaterial changed
// (spec §2 "drains/recreates affected sessions while preserving others",
// §3 "mutations trigger targeted session cleanup"). A repository edit
// that leaves both fields untouched — e.g. a labelPrompts or
// allowedTools change — is left running.
func drainChangedRepositories(disp *dispatch.Dispatcher, prevCfg *config.Config, diff config.Diff, log *slog.Logger) {
	for _, repo := range diff.Removed {
		if n := disp.DrainRepository(repo.ID, "repository_removed"); n > 0 {
			log.Info("drained sessions for removed repository", "repository", repo.ID, "sessions", n)
		}
	}

	var prevByID map[string]config.Repository
	if prevCfg != nil {
		prevByID = make(map[string]config.Repository, len(prevCfg.Repositories))
		for _, r := range prevCfg.Repositories {
			prevByID[r.ID] = r
		}
	}
	for _, repo := range diff.Modified {
		prev, ok := prevByID[repo.ID]
		if !ok || (prev.RepositoryPath == repo.RepositoryPath && prev.TokenMaterial == repo.TokenMaterial) {
			continue
		}
		if n := disp.DrainRepository(repo.ID, "repository_modified"); n > 0 {
			log.Info("drained sessions for repository identity change", "repository", repo.ID, "sessions", n)
		}
	}
}

func pumpErrors(ctx context.Context, th transportHandle, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-th.transport.Errors():
			if !ok {
				return
			}
			log.Warn("transport error", "error", err, "transport", th.kind)
		}
	}
}

func adminTokenOrEnv(flag string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	return os.Getenv("CYRUS_ADMIN_TOKEN")
}

// handleOAuthCallback answers the "/callback" OAuth redirect by logging the
// query and replying 200. It keeps no pending-handshake state, so no
// handshake timeout is applied here or elsewhere in the process.
func handleOAuthCallback(log *slog.Logger) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Info("oauth callback received", "query", r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("authorization received, you may close this window"))
	}
}

func buildTrackerTransport(log *slog.Logger) (tracker.Service, *trackertransport.Transport, bool) {
	apiKey := os.Getenv("LINEAR_API_TOKEN")
	secret := os.Getenv("TRACKER_WEBHOOK_SECRET")
	if apiKey == "" || secret == "" {
		return nil, nil, false
	}
	svc := linear.NewClient(linear.Config{APIKey: apiKey})
	t := trackertransport.New(trackertransport.Config{Secret: secret}, log)
	return svc, t, true
}

func buildSlackTransport(log *slog.Logger) (slacktransport.API, *slacktransport.Transport, bool) {
	token := os.Getenv("SLACK_BOT_TOKEN")
	secret := os.Getenv("SLACK_SIGNING_SECRET")
	if token == "" || secret == "" {
		return nil, nil, false
	}
	api := goslack.New(token)
	t := slacktransport.New(slacktransport.Config{SigningSecret: secret, BotToken: token}, api, log)
	return api, t, true
}

func buildDiscordTransport(log *slog.Logger) (discordtransport.Session, *discordtransport.Transport, bool) {
	token := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" {
		return nil, nil, false
	}
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		log.Error("failed to create discord session", "error", err)
		return nil, nil, false
	}
	botUserID := os.Getenv("DISCORD_BOT_USER_ID")
	t := discordtransport.New(discordtransport.Config{Token: token, BotUserID: botUserID}, sess, log)
	return sess, t, true
}

func buildGitHubTransport(log *slog.Logger) (githubtransport.Config, *githubtransport.Transport, bool) {
	apiToken := os.Getenv("GITHUB_API_TOKEN")
	secret := os.Getenv("GITHUB_WEBHOOK_SECRET")
	if apiToken == "" || secret == "" {
		return githubtransport.Config{}, nil, false
	}
	cfg := githubtransport.Config{
		WebhookSecret: secret,
		APIToken:      apiToken,
		BotLogin:      os.Getenv("GITHUB_BOT_LOGIN"),
	}
	t := githubtransport.New(cfg, log)
	return cfg, t, true
}
