package engine

import "github.com/google/uuid"

// Tag identifies the kind of message carried on the event queue.
type Tag string

const (
	Started      Tag = "started"
	Stopped      Tag = "stopped"
	Died         Tag = "died"
	Removed      Tag = "removed"
	ReconcileAll Tag = "reconcile_all"
	SuppressAll  Tag = "suppress_all"
	Terminate    Tag = "terminate"
)

// Message is the tagged union the queue carries. ExitCode is only
// meaningful on Died. EnvelopeID correlates a message across log lines
// from enqueue through dispatch; it carries no protocol meaning.
type Message struct {
	Tag        Tag
	ID         string
	ExitCode   int
	EnvelopeID string
}

func NewStarted(id string) Message        { return Message{Tag: Started, ID: id, EnvelopeID: uuid.NewString()} }
func NewStopped(id string) Message        { return Message{Tag: Stopped, ID: id, EnvelopeID: uuid.NewString()} }
func NewDied(id string, code int) Message {
	return Message{Tag: Died, ID: id, ExitCode: code, EnvelopeID: uuid.NewString()}
}
func NewRemoved(id string) Message      { return Message{Tag: Removed, ID: id, EnvelopeID: uuid.NewString()} }
func NewReconcileAll() Message          { return Message{Tag: ReconcileAll, EnvelopeID: uuid.NewString()} }
func NewSuppressAll() Message           { return Message{Tag: SuppressAll, EnvelopeID: uuid.NewString()} }
func NewTerminate() Message             { return Message{Tag: Terminate, EnvelopeID: uuid.NewString()} }
