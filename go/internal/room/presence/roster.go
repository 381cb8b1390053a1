package presence

import "slices"

// Player is a participant in a room. Identity is ID; IsHost is fixed when the
// player is first created.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	IsHost bool   `json:"isHost"`
}

// OpKind identifies a roster operation
type OpKind int

const (
	OpJoin OpKind = iota + 1
	OpUpdate
	OpLeave
	OpReplace
)

func (k OpKind) String() string {
	switch k {
	case OpJoin:
		return "join"
	case OpUpdate:
		return "update"
	case OpLeave:
		return "leave"
	case OpReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Op is a single roster mutation decoded from an envelope.
type Op struct {
	Kind     OpKind
	Player   Player   // JOIN, UPDATE
	PlayerID string   // LEAVE
	Players  []Player // FULL_STATE
}

// Roster is the ordered set of players known to be in a room. The zero value
// is an empty roster ready to use.
//
// Every operation is idempotent: replaying a JOIN or UPDATE for a player that
// is already in the desired state leaves the roster unchanged, and JOIN/UPDATE
// fall back to each other so reordered delivery self-heals.
type Roster struct {
	// StrictHost keeps IsHost immutable for existing entries and refuses a
	// second host.
	StrictHost bool

	players []Player
}

// NewRoster creates a roster seeded with players, in order. Duplicate ids keep
// the last occurrence's data at the first occurrence's position.
func NewRoster(players ...Player) *Roster {
	r := &Roster{}
	for _, p := range players {
		r.Join(p)
	}
	return r
}

// Apply performs op and reports whether the roster changed.
func (r *Roster) Apply(op Op) bool {
	switch op.Kind {
	case OpJoin:
		return r.Join(op.Player)
	case OpUpdate:
		return r.Update(op.Player)
	case OpLeave:
		return r.Leave(op.PlayerID)
	case OpReplace:
		r.Replace(op.Players)
		return true
	default:
		return false
	}
}

// Join appends p if absent, otherwise behaves like Update.
func (r *Roster) Join(p Player) bool {
	if r.index(p.ID) >= 0 {
		return r.Update(p)
	}
	if r.StrictHost && p.IsHost && r.hasHost() {
		p.IsHost = false
	}
	r.players = append(r.players, p)
	return true
}

// Update replaces the entry with p's id, otherwise behaves like Join.
func (r *Roster) Update(p Player) bool {
	i := r.index(p.ID)
	if i < 0 {
		return r.Join(p)
	}
	if r.StrictHost {
		p.IsHost = r.players[i].IsHost
	}
	if r.players[i] == p {
		return false
	}
	r.players[i] = p
	return true
}

// Leave removes the entry with id. It reports whether one was present.
func (r *Roster) Leave(id string) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}
	r.players = slices.Delete(r.players, i, i+1)
	return true
}

// Replace discards the roster and installs players in order.
func (r *Roster) Replace(players []Player) {
	r.players = make([]Player, 0, len(players))
	for _, p := range players {
		if i := r.index(p.ID); i >= 0 {
			r.players[i] = p
			continue
		}
		r.players = append(r.players, p)
	}
}

// Get returns the player with id.
func (r *Roster) Get(id string) (Player, bool) {
	i := r.index(id)
	if i < 0 {
		return Player{}, false
	}
	return r.players[i], true
}

func (r *Roster) Contains(id string) bool {
	return r.index(id) >= 0
}

// Host returns the roster's host, if any.
func (r *Roster) Host() (Player, bool) {
	for _, p := range r.players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}

// AllReady reports whether the roster is non-empty and every player is ready.
// It gates the host's start control in the lobby; the protocol itself accepts
// START regardless.
func (r *Roster) AllReady() bool {
	if len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (r *Roster) Len() int {
	return len(r.players)
}

// Snapshot returns a copy of the players in roster order.
func (r *Roster) Snapshot() []Player {
	out := make([]Player, len(r.players))
	copy(out, r.players)
	return out
}

// IDs returns player ids in roster order.
func (r *Roster) IDs() []string {
	ids := make([]string, len(r.players))
	for i, p := range r.players {
		ids[i] = p.ID
	}
	return ids
}

func (r *Roster) index(id string) int {
	return slices.IndexFunc(r.players, func(p Player) bool { return p.ID == id })
}

func (r *Roster) hasHost() bool {
	_, ok := r.Host()
	return ok
}
