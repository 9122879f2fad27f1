// Package parse turns upstream gate device names into structured values.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"library-occupancy-backend/internal/model"
)

var (
	laneRe      = regexp.MustCompile(`[-\s]+(\d+)\s*$`)
	directionRe = regexp.MustCompile(`(?i)[-\s]+(IN|OUT|ENTRY|EXIT|ENTRANCE)\s*$`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// GateName holds the structured data parsed from a turnstile device name.
type GateName struct {
	Location  string
	Direction model.EventType
	Lane      int
}

// ParseGate extracts location, direction and lane from names such as
// "North Gate-IN-2", "North Gate OUT" or "Side Door - exit - 1".
// The lane is 0 when the name carries none.
func ParseGate(raw string) (GateName, error) {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(raw, " "))

	lane := 0
	if loc := laneRe.FindStringSubmatchIndex(s); loc != nil {
		if n, err := strconv.Atoi(s[loc[2]:loc[3]]); err == nil {
			lane = n
			s = strings.TrimSpace(s[:loc[0]])
		}
	}

	loc := directionRe.FindStringSubmatchIndex(s)
	if loc == nil {
		return GateName{}, fmt.Errorf("unable to parse direction from gate name: %q", raw)
	}
	direction := model.EventEntry
	switch strings.ToUpper(s[loc[2]:loc[3]]) {
	case "OUT", "EXIT":
		direction = model.EventExit
	}

	location := strings.TrimSpace(strings.TrimRight(s[:loc[0]], "- "))
	if location == "" {
		return GateName{}, fmt.Errorf("unable to parse location from gate name: %q", raw)
	}
	return GateName{Location: location, Direction: direction, Lane: lane}, nil
}
