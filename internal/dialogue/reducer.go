package dialogue

// State is the accumulated understanding picture of one session. It is a
// value: Reduce and ApplySummary return updated copies and never mutate
// their input, so callers can fold turns without aliasing surprises.
type State struct {
	Insights       []string
	Misconceptions []string
	Gaps           []string
	Score          int        // running maximum of per-turn scores
	Highest        Difficulty // ratchet, never regresses
	Current        Difficulty // latest reported level, may go down
	Exchanges      int
}

// Reduce folds one tutor turn into the state.
//
// Insights and misconceptions are sets: new items append only when not
// already present, insertion order preserved. Gaps are replaced wholesale,
// they describe what is currently open rather than a history. The score
// keeps its running maximum and the difficulty ratchet only moves forward.
func Reduce(s State, turn TurnPayload) State {
	out := s
	out.Insights = appendNew(cloneStrings(s.Insights), turn.Signals.CorrectInsights)
	out.Misconceptions = appendNew(cloneStrings(s.Misconceptions), turn.Signals.Misconceptions)
	out.Gaps = cloneStrings(turn.Signals.Gaps)

	if turn.UnderstandingScore > out.Score {
		out.Score = turn.UnderstandingScore
	}
	if d := ParseDifficulty(turn.DifficultyLevel); d != DifficultyUnknown {
		out.Current = d
		if d > out.Highest {
			out.Highest = d
		}
	}
	out.Exchanges = s.Exchanges + 1
	return out
}

// ApplySummary folds the end-of-session report. A present
// overall_understanding overwrites the running-max score outright, it is the
// model's holistic judgment rather than another per-turn signal.
func ApplySummary(s State, sum SummaryPayload) State {
	out := s
	if sum.OverallUnderstanding != nil {
		out.Score = clampScore(*sum.OverallUnderstanding)
	}
	return out
}

func appendNew(dst []string, items []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(items))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range items {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
