package schedule

// FilterAlreadySeeded drops every request whose occurrence number is at or
// below the highest existing number for its action, so a re-run only ever
// proposes new occurrences. Actions without existing occurrences pass through.
func FilterAlreadySeeded(q Queue, existing []Seeded) Queue {
	if len(existing) == 0 {
		return q
	}
	maxNo := make(map[string]int, len(existing))
	for _, e := range existing {
		if e.OccurrenceNo > maxNo[e.ActionID] {
			maxNo[e.ActionID] = e.OccurrenceNo
		}
	}

	out := make([]SlotRequest, 0, len(q.entries))
	for _, r := range q.entries {
		if r.OccurrenceNo <= maxNo[r.ActionID] {
			continue
		}
		out = append(out, r)
	}
	return Queue{entries: out}
}
