package session

// Scope selects the recipient set of a broadcast.
type Scope int

const (
	// ScopeDocument delivers to every session inside the sender's document.
	ScopeDocument Scope = iota
	// ScopeLobby delivers to every session with no open document. The sender
	// need not be in the lobby itself.
	ScopeLobby
)

// Broadcast fans payload out to the scope's recipients, excluding
// excludeConn. Delivery is best-effort: a failed send is recorded and the
// fan-out continues. The returned slice holds the connection ids whose send
// failed; callers treat those as implicit disconnects.
func (r *Registry) Broadcast(payload []byte, excludeConn string, scope Scope) []string {
	var doc string
	if scope == ScopeDocument {
		sender, ok := r.Lookup(excludeConn)
		if !ok || sender.Document == "" {
			return nil
		}
		doc = sender.Document
	}

	// Snapshot recipients under the read lock, send outside it: a slow or
	// dead connection must not stall registry operations.
	r.mu.RLock()
	type target struct {
		connID string
		sender Sender
	}
	var targets []target
	for id, s := range r.byConn {
		if id == excludeConn {
			continue
		}
		switch scope {
		case ScopeDocument:
			if s.Document != doc {
				continue
			}
		case ScopeLobby:
			if s.Document != "" {
				continue
			}
		}
		targets = append(targets, target{connID: id, sender: s.sender})
	}
	r.mu.RUnlock()

	var failed []string
	for _, t := range targets {
		if err := t.sender.Send(payload); err != nil {
			failed = append(failed, t.connID)
		}
	}
	return failed
}
