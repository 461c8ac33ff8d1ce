package room

// Kind classifies an action in a room's history.
type Kind int

const (
	KindInsert Kind = iota
	KindDelete
	KindReplace
	// Bookkeeping markers. They sit in history but never shift indices.
	KindInitialLoad
	KindCreateDocument
)

// Action is one edit with its author and logical timestamp. Timestamps are
// milliseconds since epoch, minted at the server when the request is decoded.
type Action struct {
	Kind      Kind
	AuthorID  int64
	Timestamp int64

	Index        int
	SelectionLen int // bytes removed (delete/replace)
	InsertedLen  int // bytes inserted (insert/replace)
	NewlineCount int
	Data         string
}

// marker reports whether the action is a bookkeeping entry exempt from
// index adjustment.
func (a Action) marker() bool {
	return a.Kind == KindInitialLoad || a.Kind == KindCreateDocument
}
