package domain

// NormalizeMoment gives a moment every perspective block with empty-but-present
// lists, so code past ingestion never has to nil-check them.
func NormalizeMoment(m Moment) Moment {
	if m.StageKey == "" {
		m.StageKey = m.Stage
	}
	m.Experience.Personas = orEmpty(m.Experience.Personas)
	m.Experience.JobsToBeDone = orEmpty(m.Experience.JobsToBeDone)
	m.Experience.MomentsOfTruth = orEmpty(m.Experience.MomentsOfTruth)
	m.Experience.Artefacts = orEmpty(m.Experience.Artefacts)
	m.AI.Signals = orEmpty(m.AI.Signals)
	m.AI.Models = orEmpty(m.AI.Models)
	m.AI.Automations = orEmpty(m.AI.Automations)
	m.AI.Risks = orEmpty(m.AI.Risks)
	m.Behaviour.Barriers = orEmpty(m.Behaviour.Barriers)
	m.Behaviour.Nudges = orEmpty(m.Behaviour.Nudges)
	m.Behaviour.Frameworks = orEmpty(m.Behaviour.Frameworks)
	m.Governance.Checks = orEmpty(m.Governance.Checks)
	m.Governance.Metrics = orEmpty(m.Governance.Metrics)
	if m.Layers == nil {
		m.Layers = []string{}
	}
	if m.KPIs == nil {
		m.KPIs = map[string]any{}
	}
	if m.DPLevel == "" {
		m.DPLevel = DPLevelTactical
	}
	return m
}

// Normalize applies NormalizeMoment to every moment and moves inline moment
// comments into the central comments map. Comments already present centrally
// (same id) are not duplicated. The input is not modified.
func Normalize(ds Dataset) Dataset {
	out := ds
	out.Moments = make([]Moment, len(ds.Moments))
	var hoisted map[string][]Comment
	for i, m := range ds.Moments {
		if len(m.Comments) > 0 {
			if hoisted == nil {
				hoisted = make(map[string][]Comment, len(ds.Comments))
				for k, v := range ds.Comments {
					hoisted[k] = v
				}
			}
			hoisted[m.ID] = appendMissing(hoisted[m.ID], m.Comments)
			m.Comments = nil
		}
		out.Moments[i] = NormalizeMoment(m)
	}
	if hoisted != nil {
		out.Comments = hoisted
	}
	return out
}

func appendMissing(dst, src []Comment) []Comment {
	seen := make(map[string]struct{}, len(dst))
	for _, c := range dst {
		seen[c.ID] = struct{}{}
	}
	out := make([]Comment, len(dst), len(dst)+len(src))
	copy(out, dst)
	for _, c := range src {
		if _, dup := seen[c.ID]; dup && c.ID != "" {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func orEmpty(l StringList) StringList {
	if l == nil {
		return StringList{}
	}
	return l
}
