package schedule

// Ledger is the allocator's working state: per-action last due date and next
// expected occurrence number, plus per-day usage across the dream.
//
// It is passed into Allocate explicitly and returned with the allocation; the
// caller's copy is never modified.
type Ledger struct {
	last map[string]Day
	next map[string]int
	used map[Day]int
}

// NewLedger seeds a ledger from already existing occurrences.
func NewLedger(existing []Seeded) Ledger {
	l := Ledger{
		last: make(map[string]Day, len(existing)),
		next: make(map[string]int, len(existing)),
		used: make(map[Day]int, len(existing)),
	}
	for _, e := range existing {
		l.used[e.DueOn]++
		if e.OccurrenceNo >= l.next[e.ActionID] {
			l.next[e.ActionID] = e.OccurrenceNo + 1
		}
		if d, ok := l.last[e.ActionID]; !ok || e.DueOn > d {
			l.last[e.ActionID] = e.DueOn
		}
	}
	return l
}

func (l Ledger) clone() Ledger {
	cp := Ledger{
		last: make(map[string]Day, len(l.last)),
		next: make(map[string]int, len(l.next)),
		used: make(map[Day]int, len(l.used)),
	}
	for k, v := range l.last {
		cp.last[k] = v
	}
	for k, v := range l.next {
		cp.next[k] = v
	}
	for k, v := range l.used {
		cp.used[k] = v
	}
	return cp
}

// Used returns how many occurrences already occupy d.
func (l Ledger) Used(d Day) int { return l.used[d] }

// Last returns the latest due date recorded for an action.
func (l Ledger) Last(actionID string) (Day, bool) {
	d, ok := l.last[actionID]
	return d, ok
}

func (l Ledger) eligible(r SlotRequest, day Day) bool {
	if day < r.Earliest {
		return false
	}
	if n, ok := l.next[r.ActionID]; ok && n != r.OccurrenceNo {
		return false
	}
	if r.Every == 0 {
		return true
	}
	last, ok := l.last[r.ActionID]
	return !ok || day >= last.AddDays(r.Every)
}

func (l Ledger) assign(r SlotRequest, day Day) {
	l.used[day]++
	l.last[r.ActionID] = day
	l.next[r.ActionID] = r.OccurrenceNo + 1
}

// Placement is a request assigned to a day.
type Placement struct {
	Request SlotRequest
	Day     Day
}

// Allocation is the result of one allocator pass.
type Allocation struct {
	Placed   []Placement
	Stranded []SlotRequest
	Ledger   Ledger
}

// TooTight reports whether any required request was left unplaced. Open-ended
// spill-over does not count.
func (a Allocation) TooTight() bool {
	for _, r := range a.Stranded {
		if !r.Spill {
			return true
		}
	}
	return false
}

// Allocate walks the window one day at a time, skipping rest days, and assigns
// up to the daily cap of eligible requests per day in queue order.
//
// A request is eligible when it is its action's next occurrence number and,
// for repeats, at least Every days have passed since the action's last due
// date. Ineligible requests stay queued without consuming capacity.
func Allocate(q Queue, w Window, ledger Ledger, cfg Config) Allocation {
	cfg = cfg.normalize()
	l := ledger.clone()

	n := q.Len()
	placed := make([]bool, n)
	remaining := n
	head := 0
	out := make([]Placement, 0, n)

	for day := w.Start; day <= w.End && remaining > 0; day++ {
		if cfg.isRestDay(day) {
			continue
		}
		free := cfg.DailyCap - l.used[day]
		if free <= 0 {
			continue
		}
		for head < n && placed[head] {
			head++
		}
		for i := head; i < n && free > 0; i++ {
			if placed[i] {
				continue
			}
			r := q.entries[i]
			if !l.eligible(r, day) {
				continue
			}
			placed[i] = true
			remaining--
			free--
			l.assign(r, day)
			out = append(out, Placement{Request: r, Day: day})
		}
	}

	var stranded []SlotRequest
	if remaining > 0 {
		stranded = make([]SlotRequest, 0, remaining)
		for i, ok := range placed {
			if !ok {
				stranded = append(stranded, q.entries[i])
			}
		}
	}
	return Allocation{Placed: out, Stranded: stranded, Ledger: l}
}
