package slack

import (
	"context"
	"fmt"
	"sync"

	goslack "github.com/slack-go/slack"

	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Sink implements the ActivitySink contract (spec §4.6) for a Slack thread:
// an ephemeral activity is posted once and then updated in place by the
// next activity; a non-ephemeral activity that follows it overwrites that
// message and ends the chain, and any other non-ephemeral activity is
// posted as a new message (spec §3 Activity
// invariant "ephemeral activities are replaced by the next non-ephemeral
// activity").
type Sink struct {
	api       API
	channelID string
	threadID  string

	mu                 sync.Mutex
	lastEphemeralTS    string
	nextOrderSeq       uint64
}

// NewSink binds a Sink to one Slack channel/thread.
func NewSink(api API, channelID, threadID string) *Sink {
	return &Sink{api: api, channelID: channelID, threadID: threadID}
}

// Post implements the ActivitySink contract: it assigns OrderSeq at
// submission time (spec §3 "orderSeq is assigned at sink submission time,
// not at runner emission time") and posts or updates the Slack message.
func (s *Sink) Post(ctx context.Context, a activity.Activity) error {
	s.mu.Lock()
	a.OrderSeq = s.nextOrderSeq
	s.nextOrderSeq++
	lastEphemeral := s.lastEphemeralTS
	s.mu.Unlock()

	opts := []goslack.MsgOption{
		goslack.MsgOptionText(render(a), false),
		goslack.MsgOptionTS(s.threadID),
	}

	if lastEphemeral != "" {
		_, _, _, err := s.api.UpdateMessage(s.channelID, lastEphemeral, opts...)
		if err != nil {
			return fmt.Errorf("update slack message: %w", err)
		}
		if !a.Ephemeral {
			s.mu.Lock()
			s.lastEphemeralTS = ""
			s.mu.Unlock()
		}
		return nil
	}

	_, ts, err := s.api.PostMessage(s.channelID, opts...)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}

	s.mu.Lock()
	if a.Ephemeral {
		s.lastEphemeralTS = ts
	} else {
		s.lastEphemeralTS = ""
	}
	s.mu.Unlock()

	return nil
}

func render(a activity.Activity) string {
	switch a.Kind {
	case activity.ActivityThought:
		return "_" + a.Body + "_"
	case activity.ActivityError:
		return ":x: " + a.Body
	case activity.ActivityElicitation:
		return ":question: " + a.Body
	default:
		return a.Body
	}
}
