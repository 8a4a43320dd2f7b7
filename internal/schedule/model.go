package schedule

// SchedulingContext identifies who the run is for. Timezone (IANA) is used to
// reduce timestamp inputs to calendar dates; empty means UTC.
type SchedulingContext struct {
	UserID   string `json:"user_id"`
	Timezone string `json:"timezone"`
}

// Dream is the goal being scheduled. Dates are "YYYY-MM-DD" strings and are
// validated by the window resolver.
type Dream struct {
	ID        string `json:"id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Area is a sub-goal; Position orders areas within a dream.
type Area struct {
	ID        string  `json:"id"`
	DreamID   string  `json:"dream_id"`
	Position  int     `json:"position"`
	DeletedAt *string `json:"deleted_at,omitempty"`
}

func (a Area) Deleted() bool { return a.DeletedAt != nil && *a.DeletedAt != "" }

// Action is a task inside an area.
//
// RepeatEveryDays unset means one-off. With RepeatEveryDays set, RepeatCount
// unset means open-ended ("until further notice"); set means exactly that many
// occurrences in total.
type Action struct {
	ID              string  `json:"id"`
	AreaID          string  `json:"area_id"`
	Position        int     `json:"position"`
	RepeatEveryDays *int    `json:"repeat_every_days,omitempty"`
	RepeatCount     *int    `json:"repeat_count,omitempty"`
	IsActive        *bool   `json:"is_active,omitempty"`
	DeletedAt       *string `json:"deleted_at,omitempty"`

	// Opaque payload, copied onto produced occurrences.
	Difficulty string `json:"difficulty,omitempty"`
	EstMinutes int    `json:"est_minutes,omitempty"`
}

// Active treats a missing is_active as true.
func (a Action) Active() bool { return a.IsActive == nil || *a.IsActive }

func (a Action) Deleted() bool { return a.DeletedAt != nil && *a.DeletedAt != "" }

// Every returns the repeat spacing in days, 0 for one-off actions.
func (a Action) Every() int {
	if a.RepeatEveryDays == nil {
		return 0
	}
	return *a.RepeatEveryDays
}

func (a Action) OpenEnded() bool { return a.Every() > 0 && a.RepeatCount == nil }

// ExistingOccurrence is an occurrence already persisted for the dream.
type ExistingOccurrence struct {
	ActionID     string `json:"action_id"`
	OccurrenceNo int    `json:"occurrence_no"`
	DueOn        string `json:"due_on"`
}

// Input is one scheduling request for a single dream.
type Input struct {
	Dream               Dream                `json:"dream"`
	Areas               []Area               `json:"areas"`
	Actions             []Action             `json:"actions"`
	ExistingOccurrences []ExistingOccurrence `json:"existing_occurrences"`
}

// Occurrence is one concrete scheduled instance of an action.
type Occurrence struct {
	ActionID     string `json:"action_id"`
	OccurrenceNo int    `json:"occurrence_no"`
	DueOn        Day    `json:"due_on"`
	PlannedDueOn Day    `json:"planned_due_on"`
	DeferCount   int    `json:"defer_count"`
	Difficulty   string `json:"difficulty,omitempty"`
	EstMinutes   int    `json:"est_minutes,omitempty"`
}

// Seeded is a parsed ExistingOccurrence.
type Seeded struct {
	ActionID     string
	OccurrenceNo int
	DueOn        Day
}
