package graph

import (
	"strings"

	"github.com/roach88/avcs/internal/dag"
)

// marks joins n copies of s with single spaces.
func marks(n int, s string) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat(s+" ", n), " ")
}

// tail is marks preceded by a separating space, or nothing.
func tail(n int, s string) string {
	if n <= 0 {
		return ""
	}
	return " " + marks(n, s)
}

// Render draws entries as a text log, one column per open branch:
//
//	* M
//	|\
//	| |
//	* | B
//	| * C
//	|/
//	|
//	* A
//
// entries must come from Walk or Flatten.
func Render[T, U any](entries []Entry[T, U], label func(dag.Action[T, U]) string) []string {
	var lines []string
	var branches []string

	for _, e := range entries {
		id := e.Action.ID
		at := -1
		for i := 0; i < len(branches); i++ {
			if branches[i] != id {
				continue
			}
			if at < 0 {
				at = i
				continue
			}
			if i == at+1 {
				// Zipper: the neighbour joins.
				lines = append(lines, marks(at+1, "|")+marks(len(branches)-at-1, "/"))
				branches = append(branches[:i], branches[i+1:]...)
				i--
				lines = append(lines, marks(len(branches), "|"))
				continue
			}
			// Cross: a branch further right joins over the ones between.
			between, rest := i-at-1, len(branches)-i-1
			lines = append(lines,
				marks(at+1, "|")+" "+strings.Repeat("_", 2*between-1)+"/"+tail(rest, "|"))
			branches = append(branches[:i], branches[i+1:]...)
			i--
			lines = append(lines, marks(at+1, "|")+"/"+marks(between, "|")+tail(rest, "/"))
		}
		if at < 0 {
			branches = append(branches, id)
			at = len(branches) - 1
		}

		cols := make([]string, len(branches))
		for i, b := range branches {
			cols[i] = "|"
			if b == id {
				cols[i] = "*"
			}
		}
		lines = append(lines, strings.Join(cols, " ")+" "+label(e.Action))

		// Diverge: new branches open right next to this one and push the
		// others to the right.
		for i, pid := range e.ParentIDs {
			if i == 0 {
				branches[at] = pid
				continue
			}
			lines = append(lines, marks(at+1, "|")+marks(len(branches)-at, `\`))
			branches = append(branches[:at+i], append([]string{pid}, branches[at+i:]...)...)
			lines = append(lines, marks(len(branches), "|"))
		}
	}
	return lines
}
