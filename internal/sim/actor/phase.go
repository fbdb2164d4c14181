package actor

// Phase is the fine-grained state driving transitions. Visible collapses it for display.
type Phase uint8

const (
	Asleep Phase = iota
	WaitingForDeparture
	CommutingToWork
	AtWork
	CommutingToLunch
	AtLunch
	ReturningFromLunch
	CommutingHome
	AtHomeJustArrived
	ConsideringLeisure
	CommutingToLeisure
	AtLeisure
	CommutingHomeFromLeisure
	EveningAtHome
	// Slept is the end of the day. It renders as asleep but never wakes again.
	Slept
)

var phaseNames = [...]string{
	Asleep:                   "asleep",
	WaitingForDeparture:      "waiting_for_departure",
	CommutingToWork:          "commuting_to_work",
	AtWork:                   "at_work",
	CommutingToLunch:         "commuting_to_lunch",
	AtLunch:                  "at_lunch",
	ReturningFromLunch:       "returning_from_lunch",
	CommutingHome:            "commuting_home",
	AtHomeJustArrived:        "at_home_just_arrived",
	ConsideringLeisure:       "considering_leisure",
	CommutingToLeisure:       "commuting_to_leisure",
	AtLeisure:                "at_leisure",
	CommutingHomeFromLeisure: "commuting_home_from_leisure",
	EveningAtHome:            "evening_at_home",
	Slept:                    "slept",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

func ParsePhase(s string) (Phase, bool) {
	for i, n := range phaseNames {
		if n == s {
			return Phase(i), true
		}
	}
	return 0, false
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	v, ok := ParsePhase(string(b))
	if !ok {
		return &UnknownPhaseError{Name: string(b)}
	}
	*p = v
	return nil
}

type UnknownPhaseError struct{ Name string }

func (e *UnknownPhaseError) Error() string { return "unknown phase " + e.Name }

// Traveling reports whether the phase consumes a route.
func (p Phase) Traveling() bool {
	switch p {
	case CommutingToWork, CommutingToLunch, ReturningFromLunch, CommutingHome,
		CommutingToLeisure, CommutingHomeFromLeisure:
		return true
	}
	return false
}

type VisibleState string

const (
	VisibleAsleep    VisibleState = "asleep"
	VisibleAtHome    VisibleState = "at_home"
	VisibleTraveling VisibleState = "traveling"
	VisibleAtWork    VisibleState = "at_work"
	VisibleAtLeisure VisibleState = "at_leisure"
)

var VisibleStates = []VisibleState{VisibleAsleep, VisibleAtHome, VisibleTraveling, VisibleAtWork, VisibleAtLeisure}

func (p Phase) Visible() VisibleState {
	switch {
	case p == Asleep || p == Slept:
		return VisibleAsleep
	case p.Traveling():
		return VisibleTraveling
	case p == AtWork:
		return VisibleAtWork
	case p == AtLunch || p == AtLeisure:
		return VisibleAtLeisure
	default:
		return VisibleAtHome
	}
}

// transitions is the complete phase graph. Direct edges that skip a traveling
// phase are taken when no route exists and the trip counts as already arrived.
var transitions = map[Phase][]Phase{
	Asleep:                   {WaitingForDeparture},
	WaitingForDeparture:      {CommutingToWork, EveningAtHome},
	CommutingToWork:          {AtWork},
	AtWork:                   {CommutingToLunch, AtLunch, CommutingHome, AtHomeJustArrived},
	CommutingToLunch:         {AtLunch, CommutingHome, AtHomeJustArrived},
	AtLunch:                  {ReturningFromLunch, AtWork, CommutingHome, AtHomeJustArrived},
	ReturningFromLunch:       {AtWork, CommutingHome, AtHomeJustArrived},
	CommutingHome:            {AtHomeJustArrived},
	AtHomeJustArrived:        {ConsideringLeisure, EveningAtHome},
	ConsideringLeisure:       {CommutingToLeisure, AtLeisure},
	CommutingToLeisure:       {AtLeisure},
	AtLeisure:                {CommutingHomeFromLeisure, EveningAtHome},
	CommutingHomeFromLeisure: {EveningAtHome},
	EveningAtHome:            {Slept},
	Slept:                    nil,
}

// Allowed reports whether from -> to is an edge of the phase graph.
func Allowed(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
