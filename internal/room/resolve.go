package room

import "time"

// resolve reconciles an incoming action against the room's history and
// prunes entries that have aged out of the retention window.
//
// For every historical action B issued by a different author with a later
// timestamp than the incoming action A (meaning A was produced without
// knowledge of B), A's index is shifted by B's effect when A lands after
// B's position:
//
//	insert:  +InsertedLen
//	delete:  -SelectionLen
//	replace: +InsertedLen-SelectionLen
//
// Only the incoming action is adjusted; history entries are never rewritten.
// This single-pass compensation runs once per arriving action, so stacked
// concurrent edits are corrected incrementally as each one arrives.
func resolve(a Action, history []Action, window time.Duration) (Action, []Action) {
	windowMillis := window.Milliseconds()
	kept := history[:0]
	for _, b := range history {
		if !b.marker() && a.Timestamp < b.Timestamp && a.AuthorID != b.AuthorID {
			if a.Index > b.Index {
				switch b.Kind {
				case KindInsert:
					a.Index += b.InsertedLen
				case KindDelete:
					a.Index -= b.SelectionLen
				case KindReplace:
					a.Index += b.InsertedLen - b.SelectionLen
				}
			}
			kept = append(kept, b)
			continue
		}
		if a.Timestamp > b.Timestamp+windowMillis {
			// B is old enough that no future action can still be concurrent
			// with it. Evicted exactly once, never revisited.
			continue
		}
		kept = append(kept, b)
	}
	return a, kept
}
