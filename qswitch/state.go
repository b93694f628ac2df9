package qswitch

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Relay is a single line/tap connection on the switch.  Tap 0 is the
// ground bus, tap 9 the through connection, taps 1-8 the breakouts.
type Relay struct {
	Line int
	Tap  int
}

// State is a set of closed relays, order insignificant
type State []Relay

var channelListRe = regexp.MustCompile(`^\(@([0-9,:! ]*)\)$`)

func parseRelay(s string) (Relay, error) {
	pair := strings.Split(s, "!")
	if len(pair) != 2 {
		return Relay{}, fmt.Errorf("expected channel pair, got %q", s)
	}
	line, err := strconv.Atoi(strings.TrimSpace(pair[0]))
	if err != nil {
		return Relay{}, fmt.Errorf("expected channel, got %q", pair[0])
	}
	tap, err := strconv.Atoi(strings.TrimSpace(pair[1]))
	if err != nil {
		return Relay{}, fmt.Errorf("expected channel, got %q", pair[1])
	}
	return Relay{Line: line, Tap: tap}, nil
}

// ParseChannelList unpacks SCPI channel-list syntax, e.g.
// "(@1!0:3!0,5!9)", into a State.  Ranges span lines on a single tap.
func ParseChannelList(channelList string) (State, error) {
	m := channelListRe.FindStringSubmatch(channelList)
	if m == nil {
		return nil, fmt.Errorf("expected channel list, got %q", channelList)
	}
	var result State
	if m[1] == "" {
		return result, nil
	}
	for _, sequence := range strings.Split(m[1], ",") {
		limits := strings.Split(sequence, ":")
		if len(limits) > 2 {
			return nil, fmt.Errorf("expected channel sequence, got %q", sequence)
		}
		start, err := parseRelay(limits[0])
		if err != nil {
			return nil, err
		}
		stop := start
		if len(limits) == 2 {
			stop, err = parseRelay(limits[1])
			if err != nil {
				return nil, err
			}
		}
		if start.Tap != stop.Tap {
			return nil, fmt.Errorf("expected same breakout in sequence, got %q", sequence)
		}
		for line := start.Line; line <= stop.Line; line++ {
			result = append(result, Relay{Line: line, Tap: start.Tap})
		}
	}
	return result, nil
}

// Expanded renders the state with one entry per relay, e.g. "(@1!0,2!0)"
func (s State) Expanded() string {
	entries := make([]string, len(s))
	for i, r := range s {
		entries[i] = fmt.Sprintf("%d!%d", r.Line, r.Tap)
	}
	return "(@" + strings.Join(entries, ",") + ")"
}

// Compressed renders the state with runs of consecutive lines on the
// same tap merged into ranges, sorted by tap then line, duplicates
// removed.  e.g. "(@1!0:3!0,23!7:24!7,4!9)"
func (s State) Compressed() string {
	tapToLines := make(map[int][]int)
	for _, r := range s {
		tapToLines[r.Tap] = append(tapToLines[r.Tap], r.Line)
	}
	taps := make([]int, 0, len(tapToLines))
	for tap := range tapToLines {
		taps = append(taps, tap)
	}
	sort.Ints(taps)
	var intervals []string
	for _, tap := range taps {
		lines := tapToLines[tap]
		sort.Ints(lines)
		emit := func(start, end int) {
			if start == end {
				intervals = append(intervals, fmt.Sprintf("%d!%d", start, tap))
			} else {
				intervals = append(intervals, fmt.Sprintf("%d!%d:%d!%d", start, tap, end, tap))
			}
		}
		start, end := lines[0], lines[0]
		for _, line := range lines[1:] {
			if line == end || line == end+1 {
				end = line
				continue
			}
			emit(start, end)
			start, end = line, line
		}
		emit(start, end)
	}
	return "(@" + strings.Join(intervals, ",") + ")"
}

// Sorted returns a copy ordered by tap then line, duplicates removed
func (s State) Sorted() State {
	seen := make(map[Relay]struct{}, len(s))
	out := make(State, 0, len(s))
	for _, r := range s {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tap != out[j].Tap {
			return out[i].Tap < out[j].Tap
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// Diff computes the relays to close (in after but not before) and to
// open (in before but not after).  Both are returned sorted by tap then
// line so command emission is deterministic.
func Diff(before, after State) (toClose, toOpen State) {
	initial := make(map[Relay]struct{}, len(before))
	for _, r := range before {
		initial[r] = struct{}{}
	}
	target := make(map[Relay]struct{}, len(after))
	for _, r := range after {
		target[r] = struct{}{}
	}
	for r := range target {
		if _, ok := initial[r]; !ok {
			toClose = append(toClose, r)
		}
	}
	for r := range initial {
		if _, ok := target[r]; !ok {
			toOpen = append(toOpen, r)
		}
	}
	return toClose.Sorted(), toOpen.Sorted()
}

// ExpandChannelList rewrites a channel list with one entry per relay
func ExpandChannelList(channelList string) (string, error) {
	state, err := ParseChannelList(channelList)
	if err != nil {
		return "", err
	}
	return state.Expanded(), nil
}

// CompressChannelList rewrites a channel list with ranges merged
func CompressChannelList(channelList string) (string, error) {
	state, err := ParseChannelList(channelList)
	if err != nil {
		return "", err
	}
	return state.Compressed(), nil
}
