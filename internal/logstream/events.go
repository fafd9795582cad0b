package logstream

import (
	"regexp"
	"strconv"
)

// EventType classifies a recognized server log line.
type EventType string

const (
	EventNone  EventType = ""
	EventJoin  EventType = "join"
	EventLeave EventType = "leave"
	EventReady EventType = "ready"
	EventTPS   EventType = "tps"
)

// Event is structured information extracted from one log line.
type Event struct {
	Type   EventType
	Player string
	Value  float64
}

var (
	joinRe  = regexp.MustCompile(`:\s+([A-Za-z0-9_]{2,16}) joined the game`)
	leaveRe = regexp.MustCompile(`:\s+([A-Za-z0-9_]{2,16}) left the game`)
	readyRe = regexp.MustCompile(`Done \(([0-9.]+)s\)!`)
	tpsRe   = regexp.MustCompile(`TPS from last 1m, 5m, 15m: \*?([0-9.]+)`)
)

// ParseEvent extracts player joins and leaves, boot time and TPS reports.
func ParseEvent(text string) Event {
	if m := joinRe.FindStringSubmatch(text); m != nil {
		return Event{Type: EventJoin, Player: m[1]}
	}
	if m := leaveRe.FindStringSubmatch(text); m != nil {
		return Event{Type: EventLeave, Player: m[1]}
	}
	if m := readyRe.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		return Event{Type: EventReady, Value: v}
	}
	if m := tpsRe.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		return Event{Type: EventTPS, Value: v}
	}
	return Event{}
}
