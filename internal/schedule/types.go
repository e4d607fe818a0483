package schedule

import "time"

// Capacity limits for the two trigger lists.
const (
	MaxWeekly  = 64
	MaxSpecial = 10
)

// EventType tags what a special event commemorates. Purely descriptive;
// matching never looks at it.
type EventType int

const (
	EventMass EventType = iota
	EventAngelus
	EventWedding
	EventFuneral
	EventFeast
	EventCustom
)

func (t EventType) String() string {
	switch t {
	case EventMass:
		return "mass"
	case EventAngelus:
		return "angelus"
	case EventWedding:
		return "wedding"
	case EventFuneral:
		return "funeral"
	case EventFeast:
		return "feast"
	case EventCustom:
		return "custom"
	default:
		return "custom"
	}
}

// Weekly is a recurring trigger keyed by day-of-week and time-of-day.
// time.Weekday numbering (0 = Sunday) matches the stored convention.
type Weekly struct {
	ID     int          `json:"id"`
	Name   string       `json:"name"`
	Day    time.Weekday `json:"dayOfWeek"`
	Hour   int          `json:"hour"`
	Minute int          `json:"minute"`
	Melody int          `json:"melodyIndex"`
	Active bool         `json:"isActive"`
}

// Special is a trigger keyed to a calendar date. Recurring events match
// every year; non-recurring ones match their stored year only and are
// deactivated after firing.
type Special struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Type      EventType `json:"type"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Day       int       `json:"day"`
	Hour      int       `json:"hour"`
	Minute    int       `json:"minute"`
	Melody    int       `json:"melodyIndex"`
	Active    bool      `json:"isActive"`
	Recurring bool      `json:"isRecurring"`
}

// Stats summarizes matcher activity.
type Stats struct {
	Triggered   uint64    `json:"triggered"`
	LastTrigger time.Time `json:"lastTrigger"`
	LastName    string    `json:"lastName,omitempty"`
	LastMelody  int       `json:"lastMelody"`
}
