package puzzle

import (
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
)

var ErrWrongAnswer = errors.New("not quite right, try again")

// Riddle is one entry of the static riddle table.
type Riddle struct {
	Question string `json:"question"`
	Answer   string `json:"-"`
}

// Riddles is the content lookup table used in riddle mode.
var Riddles = []Riddle{
	{Question: "What has keys but can't open locks?", Answer: "piano"},
	{Question: "What has to be broken before you can use it?", Answer: "egg"},
	{Question: "What gets wetter the more it dries?", Answer: "towel"},
	{Question: "What has a neck but no head?", Answer: "bottle"},
	{Question: "What can you catch but not throw?", Answer: "cold"},
	{Question: "What has many teeth but cannot bite?", Answer: "comb"},
	{Question: "What goes up but never comes down?", Answer: "age"},
	{Question: "What has hands but can't clap?", Answer: "clock"},
}

// RiddleFor assigns a riddle to a player for an epoch. The assignment is
// stable so a reconnecting client gets the same riddle back.
func RiddleFor(playerID string, epoch int64) Riddle {
	h := fnv.New32a()
	h.Write([]byte(playerID))
	h.Write([]byte(strconv.FormatInt(epoch, 10)))
	return Riddles[int(h.Sum32()%uint32(len(Riddles)))]
}

// Check compares an answer, ignoring case and surrounding space.
func (r Riddle) Check(answer string) error {
	if !strings.EqualFold(strings.TrimSpace(answer), r.Answer) {
		return ErrWrongAnswer
	}
	return nil
}
