package history

import "github.com/alanyoungcy/fillscope/internal/domain"

// Merge unions incoming into existing. Incoming events whose SourceID is
// already present, in existing or earlier in incoming, are dropped. Events
// without a SourceID are appended as they come.
func Merge(existing, incoming []domain.FillEvent) []domain.FillEvent {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for i := range existing {
		if id := existing[i].SourceID; id != "" {
			seen[id] = struct{}{}
		}
	}
	out := make([]domain.FillEvent, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	for _, ev := range incoming {
		if ev.SourceID != "" {
			if _, dup := seen[ev.SourceID]; dup {
				continue
			}
			seen[ev.SourceID] = struct{}{}
		}
		out = append(out, ev)
	}
	return out
}

// mergeEntry folds incoming into cur. Scalar fields take the incoming value;
// enrichment sides, diffs and ReceivedAt keep the current value when the
// incoming one is empty.
func mergeEntry(cur, incoming domain.FillEvent) domain.FillEvent {
	out := incoming
	out.Enrichment = nil
	for _, r := range cur.Enrichment {
		if r != nil {
			out.ApplyResult(*r)
		}
	}
	for _, r := range incoming.Enrichment {
		if r != nil {
			out.ApplyResult(*r)
		}
	}
	if out.Sportsbook == nil {
		out.Sportsbook = cur.Sportsbook
	}
	if out.PinnacleSportsbook == nil {
		out.PinnacleSportsbook = cur.PinnacleSportsbook
	}
	if out.ReceivedAt.IsZero() {
		out.ReceivedAt = cur.ReceivedAt
	}
	if len(out.Raw) == 0 {
		out.Raw = cur.Raw
	}
	return out
}
