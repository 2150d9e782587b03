package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// fields is a decoded JSON object whose known keys are consumed one by one;
// whatever is left over becomes the record's Extra map.
type fields map[string]json.RawMessage

func decodeFields(data []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f == nil {
		f = fields{}
	}
	return f, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (f fields) take(key string) (json.RawMessage, bool) {
	raw, ok := f[key]
	if !ok {
		return nil, false
	}
	delete(f, key)
	if isNull(raw) {
		return nil, false
	}
	return raw, true
}

// str reads a string, accepting bare numbers and booleans as their literal text.
func (f fields) str(key string) string {
	raw, ok := f.take(key)
	if !ok {
		return ""
	}
	return scalarText(raw)
}

// num reads a number, accepting numeric strings.
func (f fields) num(key string) (float64, bool) {
	raw, ok := f.take(key)
	if !ok {
		return 0, false
	}
	return lenientNumber(raw)
}

// decode unmarshals into dst and ignores type mismatches; the document is
// user-edited and a bad sub-record must not reject the whole map.
func (f fields) decode(key string, dst any) {
	raw, ok := f.take(key)
	if !ok {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

// decodeEach decodes a list element by element, skipping nulls and elements
// that are not objects instead of failing the whole list.
func decodeEach[T any](f fields, key string) []T {
	raw, ok := f.take(key)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if isNull(item) {
			continue
		}
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (f fields) extra() map[string]json.RawMessage {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(f))
	for k, raw := range f {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			out[k] = raw
			continue
		}
		out[k] = json.RawMessage(buf.Bytes())
	}
	return out
}

func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
	}
	return string(trimmed)
}

func lenientNumber(raw json.RawMessage) (float64, bool) {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// StringList is a list of display strings. It decodes from an array of any
// scalars (non-strings keep their literal text) or from a single string.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*l = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		*l = StringList{}
		return nil
	}
	out := make(StringList, 0, len(items))
	for _, item := range items {
		if isNull(item) {
			continue
		}
		out = append(out, scalarText(item))
	}
	*l = out
	return nil
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

func (m *Moment) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	out := Moment{
		ID:          f.str("id"),
		Title:       f.str("title"),
		StageKey:    f.str("stageKey"),
		Stage:       f.str("stage"),
		Description: f.str("description"),
		DPLevel:     f.str("dpLevel"),
	}
	if level := f.str("level"); out.DPLevel == "" {
		out.DPLevel = level
	}
	if out.StageKey == "" {
		out.StageKey = out.Stage
	}
	if col, ok := f.num("column"); ok {
		out.Column = int(math.Round(col))
	}
	f.decode("experience", &out.Experience)
	f.decode("ai", &out.AI)
	f.decode("behaviour", &out.Behaviour)
	f.decode("governance", &out.Governance)

	var layers, tags StringList
	f.decode("layers", &layers)
	f.decode("tags", &tags)
	out.Layers = mergeTags(layers, tags)

	var metrics, kpis map[string]any
	f.decode("metrics", &metrics)
	f.decode("kpis", &kpis)
	out.KPIs = mergeKPIs(metrics, kpis)

	var comments []Comment
	f.decode("comments", &comments)
	out.Comments = comments

	out.Extra = f.extra()
	*m = out
	return nil
}

func (m Moment) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+13)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["id"] = m.ID
	out["title"] = m.Title
	out["stageKey"] = m.StageKey
	if m.Stage != "" {
		out["stage"] = m.Stage
	}
	if m.Column != 0 {
		out["column"] = m.Column
	}
	if m.Description != "" {
		out["description"] = m.Description
	}
	out["experience"] = m.Experience
	out["ai"] = m.AI
	out["behaviour"] = m.Behaviour
	out["governance"] = m.Governance
	out["layers"] = nonNilStrings(m.Layers)
	if m.KPIs == nil {
		out["kpis"] = map[string]any{}
	} else {
		out["kpis"] = m.KPIs
	}
	if m.DPLevel != "" {
		out["dpLevel"] = m.DPLevel
	}
	if len(m.Comments) > 0 {
		out["comments"] = m.Comments
	}
	return json.Marshal(out)
}

func (s *Stage) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	out := Stage{
		Key:    f.str("key"),
		Label:  f.str("label"),
		Title:  f.str("title"),
		Letter: f.str("letter"),
		Color:  f.str("color"),
	}
	if order, ok := f.num("order"); ok {
		out.Order = int(math.Round(order))
	}
	out.Extra = f.extra()
	*s = out
	return nil
}

func (s Stage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+6)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["key"] = s.Key
	out["label"] = s.DisplayLabel()
	if s.Title != "" {
		out["title"] = s.Title
	}
	if s.Order != 0 {
		out["order"] = s.Order
	}
	if s.Letter != "" {
		out["letter"] = s.Letter
	}
	if s.Color != "" {
		out["color"] = s.Color
	}
	return json.Marshal(out)
}

func (d *Dataset) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	var out Dataset
	out.Moments = decodeEach[Moment](f, "moments")
	out.Stages = decodeEach[Stage](f, "stages")
	f.decode("comments", &out.Comments)
	f.decode("kpiConfig", &out.KpiConfig)
	out.Extra = f.extra()
	*d = out
	return nil
}

func (d Dataset) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+4)
	for k, v := range d.Extra {
		out[k] = v
	}
	if d.Moments == nil {
		out["moments"] = []Moment{}
	} else {
		out["moments"] = d.Moments
	}
	if d.Stages != nil {
		out["stages"] = d.Stages
	}
	if d.Comments != nil {
		out["comments"] = d.Comments
	}
	if d.KpiConfig != nil {
		out["kpiConfig"] = d.KpiConfig
	}
	return json.Marshal(out)
}

// ParseDataset decodes and normalises a dataset document. This is the only
// place raw text enters the pipeline, so it is the only place that can fail.
func ParseDataset(data []byte) (Dataset, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Dataset{}, nil
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return Dataset{}, err
	}
	return Normalize(ds), nil
}

func mergeTags(lists ...StringList) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, l := range lists {
		for _, tag := range l {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

// mergeKPIs combines the legacy metrics map with kpis; kpis wins on collisions.
func mergeKPIs(metrics, kpis map[string]any) map[string]any {
	if metrics == nil && kpis == nil {
		return nil
	}
	out := make(map[string]any, len(metrics)+len(kpis))
	for k, v := range metrics {
		out[k] = v
	}
	for k, v := range kpis {
		out[k] = v
	}
	return out
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
