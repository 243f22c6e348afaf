package scene

import "fmt"

// EditState is the reconciliation state of one structural edit.
type EditState string

const (
	EditRequested EditState = "requested"
	EditCommitted EditState = "committed"
	EditRejected  EditState = "rejected"
)

// NoticeKind classifies what a Notice reports.
type NoticeKind string

const (
	// NoticeEdit reports a structural edit moving through EditState.
	NoticeEdit NoticeKind = "edit"
	// NoticeError is a failure shown to the user as a blocking message.
	NoticeError NoticeKind = "error"
	// NoticeStatus reports a status patch from the overlay.
	NoticeStatus NoticeKind = "status"
	// NoticeLoaded reports a completed load or reload.
	NoticeLoaded NoticeKind = "loaded"
	// NoticeLayout reports new positions.
	NoticeLayout NoticeKind = "layout"
	// NoticeInfo is anything else worth showing.
	NoticeInfo NoticeKind = "info"
	// NoticeClosed is the last notice a session publishes.
	NoticeClosed NoticeKind = "closed"
)

// Notice is published to session listeners after anything visible happens.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Op      string     `json:"op,omitempty"`
	State   EditState  `json:"state,omitempty"`
	Target  string     `json:"target,omitempty"`
	Message string     `json:"message,omitempty"`
}

func (n Notice) String() string {
	if n.State != "" {
		return fmt.Sprintf("%s %s %s: %s", n.Kind, n.Op, n.State, n.Message)
	}
	return fmt.Sprintf("%s %s: %s", n.Kind, n.Op, n.Message)
}
