package session

import "github.com/toolrelay/toolrelay/internal/schema"

// unit is a half-open range of turns that must be kept or dropped together.
type unit struct {
	start, end int
	chars      int
}

// units splits turns so that every invocation shares a unit with its
// observation. Overlapping pairs merge into one unit.
func units(turns schema.Turns) []unit {
	observed := make(map[string]int)
	for i, t := range turns {
		if t.Kind == schema.TurnObservation {
			observed[t.CorrelationID()] = i
		}
	}

	var out []unit
	for i := 0; i < len(turns); {
		end := i + 1
		for j := i; j < end; j++ {
			if turns[j].Kind != schema.TurnInvocation {
				continue
			}
			if k, ok := observed[turns[j].CorrelationID()]; ok && k+1 > end {
				end = k + 1
			}
		}
		u := unit{start: i, end: end}
		for _, t := range turns[i:end] {
			u.chars += t.Size()
		}
		out = append(out, u)
		i = end
	}
	return out
}

// Window returns the longest suffix of turns, cut at unit boundaries, that
// fits budget. The newest unit is always kept even when it alone exceeds
// the budget. The newest user message is always kept too, ahead of the
// suffix, so the oracle never loses the question it is answering. Zero
// budget fields are unlimited.
func Window(turns schema.Turns, budget schema.ContextBudget) schema.Turns {
	if budget.MaxTurns <= 0 && budget.MaxChars <= 0 {
		return turns
	}
	us := units(turns)
	if len(us) == 0 {
		return turns
	}

	pin := lastUserTurn(turns)
	last := us[len(us)-1]
	start := last.start
	count := last.end - last.start
	chars := last.chars
	if pin >= 0 && pin < start {
		count++
		chars += turns[pin].Size()
	}
	for i := len(us) - 2; i >= 0; i-- {
		u := us[i]
		n, c := u.end-u.start, u.chars
		if u.start == pin {
			// already counted
			n, c = 0, 0
		}
		if budget.MaxTurns > 0 && count+n > budget.MaxTurns {
			break
		}
		if budget.MaxChars > 0 && chars+c > budget.MaxChars {
			break
		}
		start = u.start
		count += n
		chars += c
	}

	if pin < 0 || pin >= start {
		return turns[start:]
	}
	out := make(schema.Turns, 0, len(turns)-start+1)
	out = append(out, turns[pin])
	return append(out, turns[start:]...)
}

func lastUserTurn(turns schema.Turns) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Kind == schema.TurnUser {
			return i
		}
	}
	return -1
}
