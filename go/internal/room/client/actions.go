package client

import (
	"errors"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/puzzle"
	"github.com/mcdev12/coopsync/go/internal/room/session"
)

var (
	ErrNoSelf    = errors.New("local player not set")
	ErrNotActive = errors.New("session is not active")
	ErrWrongMode = errors.New("action does not match the session mode")
)

// Riddle returns the local player's riddle for the current epoch.
func (s *State) Riddle() (puzzle.Riddle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selfID == "" {
		return puzzle.Riddle{}, ErrNoSelf
	}
	epoch, _ := s.machine.Epoch()
	return puzzle.RiddleFor(s.selfID, epoch), nil
}

// Sequence returns the color sequence of the current epoch.
func (s *State) Sequence() puzzle.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	epoch, _ := s.machine.Epoch()
	return puzzle.NewSequence(s.roomID, epoch, s.seqLen)
}

// Answer checks a riddle answer locally. A correct answer yields the
// RIDDLE_SOLVED submission to send; a wrong one never leaves the client.
func (s *State) Answer(text string) (events.Submission, error) {
	riddle, err := s.Riddle()
	if err != nil {
		return events.Submission{}, err
	}
	if err := s.checkPlayable(puzzle.ModeRiddle); err != nil {
		return events.Submission{}, err
	}
	if err := riddle.Check(text); err != nil {
		return events.Submission{}, err
	}
	return events.NewSubmission(s.roomID, events.TypeRiddleSolved, s.selfID, events.RiddleSolvedPayload{PlayerID: s.selfID})
}

// PressColor checks one input of the calibration sequence against the
// local player's step and the group barrier. A valid press yields the
// SEQUENCE_STEP submission to send.
func (s *State) PressColor(color string) (events.Submission, error) {
	if err := s.checkPlayable(puzzle.ModeSequence); err != nil {
		return events.Submission{}, err
	}
	seq := s.Sequence()

	s.mu.Lock()
	if s.selfID == "" {
		s.mu.Unlock()
		return events.Submission{}, ErrNoSelf
	}
	own := 0
	if m, ok := s.progress[s.selfID]; ok && m.Kind == puzzle.KindStep {
		own = m.Step
	}
	group := puzzle.CurrentStep(s.roster.IDs(), s.progress)
	self := s.selfID
	s.mu.Unlock()

	next, err := seq.Check(own, group, color)
	if err != nil {
		return events.Submission{}, err
	}
	return events.NewSubmission(s.roomID, events.TypeSequenceStep, self, events.SequenceStepPayload{PlayerID: self, Step: next})
}

func (s *State) checkPlayable(mode puzzle.Mode) error {
	if s.Verdict() != session.PhaseActive {
		return ErrNotActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != mode {
		return ErrWrongMode
	}
	return nil
}
