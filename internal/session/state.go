package session

import (
	"fmt"
	"strings"
)

// State is the session state. The zero value is CheckPeer.
type State int

const (
	CheckPeer State = iota
	WaitForPeer
	LoadList
	ReceivingList
	BrowsingList
	LoadPage
	ReceivingPage
	DisplayPage
	Failed
)

var stateNames = [...]string{
	CheckPeer:     "CHECK_PEER",
	WaitForPeer:   "WAIT_FOR_PEER",
	LoadList:      "LOAD_LIST",
	ReceivingList: "RECEIVING_LIST",
	BrowsingList:  "BROWSING_LIST",
	LoadPage:      "LOAD_PAGE",
	ReceivingPage: "RECEIVING_PAGE",
	DisplayPage:   "DISPLAY_PAGE",
	Failed:        "ERROR",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// receiving reports whether s is a transfer state with a stall deadline.
func (s State) receiving() bool {
	return s == ReceivingList || s == ReceivingPage
}

// Input is a user navigation event, already mapped from physical buttons.
type Input int

const (
	Up Input = iota + 1
	Down
	Confirm
	Back
	Prev
	Next
)

func (in Input) String() string {
	switch in {
	case Up:
		return "up"
	case Down:
		return "down"
	case Confirm:
		return "confirm"
	case Back:
		return "back"
	case Prev:
		return "prev"
	case Next:
		return "next"
	default:
		return fmt.Sprintf("input(%d)", int(in))
	}
}

// ParseInput reads an input name as printed by String, ignoring case.
func ParseInput(s string) (Input, bool) {
	for in := Up; in <= Next; in++ {
		if strings.EqualFold(strings.TrimSpace(s), in.String()) {
			return in, true
		}
	}
	return 0, false
}
