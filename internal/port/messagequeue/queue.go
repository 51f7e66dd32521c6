// Package messagequeue describes the message bus between the search service
// and remote agent workers.
package messagequeue

import "context"

// Handler consumes one message. A returned error requests redelivery.
// ctx carries the publisher's request id when one was sent.
type Handler func(ctx context.Context, subject string, data []byte) error

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subscriber delivers messages on a subject to a handler until the
// returned cancel func is called.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)
}

// PubSub is what the agent-loop runner needs from a bus.
type PubSub interface {
	Publisher
	Subscriber
}

// Queue is a connected bus with a lifecycle.
type Queue interface {
	PubSub

	// Drain finishes in-flight deliveries, then closes.
	Drain() error
	Close() error
	IsConnected() bool
}

// Subjects of the remote agent-loop protocol. The service publishes
// start, cancel and close; workers publish tool and complete.
const (
	SubjectSearchStart    = "searches.start"
	SubjectSearchCancel   = "searches.cancel"
	SubjectSearchClose    = "searches.close"
	SubjectSearchComplete = "searches.complete"
	SubjectSearchTool     = "searches.tool"
)

// DeadLetter names the subject rejected messages from subject are parked on.
func DeadLetter(subject string) string {
	return subject + ".dlq"
}

// Tool phases carried on searches.tool.
const (
	ToolPhaseStart = "start"
	ToolPhaseEnd   = "end"
)
