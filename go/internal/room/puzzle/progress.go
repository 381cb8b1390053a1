package puzzle

import "maps"

// Mode selects which puzzle a session plays
type Mode string

const (
	ModeRiddle   Mode = "riddle"
	ModeSequence Mode = "sequence"
)

// DefaultSequenceLength is the number of inputs in a calibration sequence.
const DefaultSequenceLength = 4

// ParseMode maps a wire value to a Mode. Anything unrecognized is riddle mode.
func ParseMode(s string) Mode {
	if Mode(s) == ModeSequence {
		return ModeSequence
	}
	return ModeRiddle
}

// Accepts reports whether markers of kind k belong to mode m.
func (m Mode) Accepts(k Kind) bool {
	if m == ModeSequence {
		return k == KindStep
	}
	return k == KindSolved
}

// Kind tags the variant held by a Marker
type Kind int

const (
	KindNone Kind = iota
	KindSolved
	KindStep
)

// Marker is a player's progress within one epoch: a solved flag for riddle
// mode or the highest step reached for sequence mode.
type Marker struct {
	Kind   Kind
	Solved bool
	Step   int
}

func SolvedMarker() Marker {
	return Marker{Kind: KindSolved, Solved: true}
}

func StepMarker(step int) Marker {
	if step < 0 {
		step = 0
	}
	return Marker{Kind: KindStep, Step: step}
}

// Advance merges next into m without ever regressing. An empty m takes next;
// a marker of a different kind leaves m unchanged.
func (m Marker) Advance(next Marker) Marker {
	if m.Kind == KindNone {
		return next
	}
	if m.Kind != next.Kind {
		return m
	}
	switch m.Kind {
	case KindSolved:
		m.Solved = m.Solved || next.Solved
	case KindStep:
		m.Step = max(m.Step, next.Step)
	}
	return m
}

// Goal is the per-mode completion predicate. ok is false when the player has
// no marker at all.
type Goal interface {
	Satisfied(m Marker, ok bool) bool
}

// SolvedGoal is met by a solved marker.
type SolvedGoal struct{}

func (SolvedGoal) Satisfied(m Marker, ok bool) bool {
	return ok && m.Kind == KindSolved && m.Solved
}

// StepGoal is met once a player reached Length steps.
type StepGoal struct {
	Length int
}

func (g StepGoal) Satisfied(m Marker, ok bool) bool {
	return ok && m.Kind == KindStep && m.Step >= g.Length
}

// GoalFor returns the completion predicate for mode.
func GoalFor(mode Mode, sequenceLength int) Goal {
	if mode == ModeSequence {
		if sequenceLength <= 0 {
			sequenceLength = DefaultSequenceLength
		}
		return StepGoal{Length: sequenceLength}
	}
	return SolvedGoal{}
}

// Progress maps player id to marker. Entries for players no longer on the
// roster are ignored by the aggregate checks.
type Progress map[string]Marker

// Record stores marker for id, merged monotonically with any existing marker.
// It reports whether the stored marker changed.
func (p Progress) Record(id string, marker Marker) bool {
	prev, ok := p[id]
	merged := prev.Advance(marker)
	if ok && merged == prev {
		return false
	}
	p[id] = merged
	return true
}

func (p Progress) Forget(id string) {
	delete(p, id)
}

// Reset clears every marker, as at the start of a new epoch.
func (p Progress) Reset() {
	clear(p)
}

func (p Progress) Clone() Progress {
	if p == nil {
		return Progress{}
	}
	return maps.Clone(p)
}

// IsTeamComplete reports whether every id currently on the roster satisfies
// goal. An empty roster is never complete, and a player without any marker
// keeps the team incomplete.
func IsTeamComplete(roster []string, progress Progress, goal Goal) bool {
	if len(roster) == 0 {
		return false
	}
	for _, id := range roster {
		m, ok := progress[id]
		if !goal.Satisfied(m, ok) {
			return false
		}
	}
	return true
}

// CurrentStep is the group's barrier in sequence mode: the minimum step over
// the current roster, counting players without a marker as 0.
func CurrentStep(roster []string, progress Progress) int {
	if len(roster) == 0 {
		return 0
	}
	step := -1
	for _, id := range roster {
		s := 0
		if m, ok := progress[id]; ok && m.Kind == KindStep {
			s = m.Step
		}
		if step < 0 || s < step {
			step = s
		}
	}
	return step
}
