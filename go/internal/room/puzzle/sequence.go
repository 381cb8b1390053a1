package puzzle

import (
	"errors"
	"hash/fnv"
	"math/rand/v2"
)

// Colors are the inputs of the calibration puzzle.
var Colors = []string{"red", "green", "blue", "yellow"}

var (
	ErrWrongInput   = errors.New("wrong input for current step")
	ErrAheadOfGroup = errors.New("waiting for the rest of the group")
	ErrSequenceDone = errors.New("sequence already complete")
)

// Sequence is the ordered list of colors the group must enter together.
type Sequence []string

// NewSequence derives a sequence from the room and epoch so every client in
// the same epoch draws the same colors without exchanging them.
func NewSequence(roomID string, epoch int64, length int) Sequence {
	if length <= 0 {
		length = DefaultSequenceLength
	}
	h := fnv.New64a()
	h.Write([]byte(roomID))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(epoch)))

	seq := make(Sequence, length)
	for i := range seq {
		seq[i] = Colors[rng.IntN(len(Colors))]
	}
	return seq
}

// Check validates a press of color by a player at step own while the group
// barrier is at group. On success it returns the player's new step.
//
// A player may be at most one step past the barrier; pressing again before
// the others catch up is refused.
func (s Sequence) Check(own, group int, color string) (int, error) {
	if own >= len(s) {
		return own, ErrSequenceDone
	}
	if own > group {
		return own, ErrAheadOfGroup
	}
	if s[own] != color {
		return own, ErrWrongInput
	}
	return own + 1, nil
}
