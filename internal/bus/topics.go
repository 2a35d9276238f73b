package bus

// Checklist event topics.
const (
	TopicSessionChecklist = "session.checklist"
	// TopicSessionStopRequest lets plugins (e.g. a hardware button) ask the
	// host to end the running session early.
	TopicSessionStopRequest = "session.stop_request"
)

// Plugin and agent event topics.
const (
	TopicPluginNotice = "plugin.notice"
	TopicAgentReply   = "agent.reply"
)

// ChecklistEvent is published when a goal item is checked or unchecked.
type ChecklistEvent struct {
	SessionID string
	Item      string // goal text
	Index     int    // position in the session's goal list
	Checked   bool
	Completed int // items done after this change
	Total     int
}

// StopRequestEvent asks the session host to end the active session.
type StopRequestEvent struct {
	Source string // plugin that requested the stop
	Reason string
}

// NoticeEvent carries user-facing plugin notifications (e.g. cheer
// affirmations, mail-task additions) to the TUI.
type NoticeEvent struct {
	Plugin  string // plugin id
	Message string
}

// ReplyEvent is published when the assistant produces a chat response.
type ReplyEvent struct {
	SessionID string // empty when no session is active
	Text      string
	Err       string // non-empty when the request failed
}
