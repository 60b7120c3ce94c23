package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ceedaragents/cyrus/internal/dispatch"
	"github.com/ceedaragents/cyrus/internal/router"
	"github.com/ceedaragents/cyrus/internal/runner"
	"github.com/ceedaragents/cyrus/internal/runner/claude"
	"github.com/ceedaragents/cyrus/internal/runner/codex"
	discordsurface "github.com/ceedaragents/cyrus/internal/transport/discord"
	githubsurface "github.com/ceedaragents/cyrus/internal/transport/github"
	slacksurface "github.com/ceedaragents/cyrus/internal/transport/slack"
	trackersurface "github.com/ceedaragents/cyrus/internal/transport/tracker"
	"github.com/ceedaragents/cyrus/internal/tracker"
	"github.com/ceedaragents/cyrus/internal/sink"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

var _ dispatch.Launcher = (*launcher)(nil)

// launcher is the concrete dispatch.Launcher: it switches on a repository's
// configured AgentRunner to build the right runner.Adapter, and on an
// event's TransportKind to build the right ActivitySink.Surface, using the
// live transport clients assembled once at startup (cmd/cyrus is the only
// place that knows both the loaded config and the running transports).
type launcher struct {
	log *slog.Logger

	tracker tracker.Service

	slackAPI slacksurface.API
	discord  discordsurface.Session
	github   githubsurface.Config
}

func (l *launcher) NewAdapter(decision router.Decision) (runner.Adapter, error) {
	switch decision.Repository.RunnerKind() {
	case "codex":
		return codex.New(codex.Config{
			Binary:       os.Getenv("CODEX_BINARY"),
			Model:        os.Getenv("CODEX_MODEL"),
			Sandbox:      os.Getenv("CODEX_SANDBOX"),
			ApprovalMode: os.Getenv("CODEX_APPROVAL_MODE"),
		}), nil
	case "claude":
		return claude.New(claude.Config{
			Binary:         os.Getenv("CLAUDE_BINARY"),
			Model:          os.Getenv("CLAUDE_MODEL"),
			PermissionMode: os.Getenv("CLAUDE_PERMISSION_MODE"),
			AllowedTools:   decision.ToolPolicy,
			MCPConfigPath:  os.Getenv("CLAUDE_MCP_CONFIG_PATH"),
		}), nil
	default:
		return nil, fmt.Errorf("launcher: unknown agent runner %q for repository %q", decision.Repository.RunnerKind(), decision.Repository.ID)
	}
}

func (l *launcher) NewSurface(decision router.Decision, evt activity.InboundEvent) (sink.Surface, error) {
	switch evt.TransportKind {
	case activity.TransportTracker:
		return l.newTrackerSurface(decision, evt)
	case activity.TransportSlack:
		return slacksurface.NewSink(l.slackAPI, evt.SurfaceRefs.ChannelID, evt.SurfaceRefs.ThreadID), nil
	case activity.TransportDiscord:
		return discordsurface.NewSink(l.discord, evt.SurfaceRefs.ChannelID), nil
	case activity.TransportGitHub:
		if evt.IssueRefs == nil {
			return nil, fmt.Errorf("launcher: github event missing issue reference")
		}
		return githubsurface.NewSink(l.github, evt.SurfaceRefs.ChannelID, evt.IssueRefs.IssueID), nil
	default:
		return nil, fmt.Errorf("launcher: unknown transport kind %q", evt.TransportKind)
	}
}

// newTrackerSurface opens a tracker-visible agent session before handing
// back a Sink bound to it, since PostAgentActivity is scoped to a tracker
// AgentSession rather than a bare issue id (spec §2 "create agent
// sessions").
func (l *launcher) newTrackerSurface(decision router.Decision, evt activity.InboundEvent) (sink.Surface, error) {
	if evt.IssueRefs == nil {
		return nil, fmt.Errorf("launcher: tracker event missing issue reference")
	}
	session, err := l.tracker.CreateAgentSession(context.Background(), tracker.CreateAgentSessionInput{
		IssueID:     evt.IssueRefs.IssueID,
		RunnerKind:  decision.Repository.RunnerKind(),
		PromptName:  decision.PromptRule.Name,
		WorkspaceID: decision.Repository.IssueTrackerWorkspaceID,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracker agent session: %w", err)
	}
	return trackersurface.NewSink(l.tracker, evt.IssueRefs.IssueID, session.ID), nil
}
