package runner

import "github.com/ceedaragents/cyrus/pkg/activity"

// MultiSink fans one AgentMessage out to several EventSinks, e.g. a
// session's LogStream alongside its formatter/ActivitySink pipeline.
type MultiSink []EventSink

func (m MultiSink) Deliver(sessionID string, msg activity.AgentMessage) {
	for _, sink := range m {
		if sink != nil {
			sink.Deliver(sessionID, msg)
		}
	}
}
