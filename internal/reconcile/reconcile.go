// Package reconcile merges two partial vehicle records into one.
//
// The primary tree decides layout: its sections keep their order and
// sections only the secondary has are appended after them. Field values are
// chosen per field by the merger's Preference, and a null never overwrites a
// non-null value. Merging is total; every pair of trees has a result.
package reconcile

import (
	"bilregistret/internal/records"
)

// Preference selects which side wins when both hold a non-null scalar.
type Preference int

const (
	// PreferPrimary keeps the primary value
	PreferPrimary Preference = iota
	// PreferSecondary lets the secondary value overwrite
	PreferSecondary
)

func (p Preference) String() string {
	if p == PreferSecondary {
		return "prefer-secondary"
	}
	return "prefer-primary"
}

// Mode describes which merge path was taken.
type Mode string

const (
	// ModeIdentity means one side was empty and the other was returned as-is
	ModeIdentity Mode = "identity"
	// ModeSectioned means both sides were sectioned
	ModeSectioned Mode = "sectioned"
	// ModeFlat means both sides were flat mappings
	ModeFlat Mode = "flat"
	// ModeMixed means a flat side was folded into a sectioned side
	ModeMixed Mode = "mixed"
)

// Conflict records a field where both sides held different non-null values.
type Conflict struct {
	Section   string
	Field     string
	Primary   records.Value
	Secondary records.Value
	Resolved  records.Value
}

// Report describes how a merge was assembled.
type Report struct {
	Mode       Mode
	Preference Preference
	// Matched lists section titles present on both sides, in output order
	Matched []string
	// Appended lists secondary-only section titles appended at the end
	Appended []string
	// Folded counts flat fields placed into existing sections
	Folded    int
	Conflicts []Conflict
}

// Merger merges trees with a fixed value preference.
type Merger struct {
	prefer Preference
}

// NewMerger creates a merger with the given preference.
func NewMerger(prefer Preference) *Merger {
	return &Merger{prefer: prefer}
}

var defaultMerger = NewMerger(PreferPrimary)

// Merge merges with PreferPrimary: the primary tree wins both layout and
// values, the secondary fills gaps. Callers wanting the secondary's
// non-null values to overwrite the primary's use
// NewMerger(PreferSecondary) instead.
func Merge(primary, secondary records.Tree) records.Tree {
	return defaultMerger.Merge(primary, secondary)
}

// MergeWithReport is Merge plus a report of conflicts and section matching.
func MergeWithReport(primary, secondary records.Tree) (records.Tree, Report) {
	return defaultMerger.MergeWithReport(primary, secondary)
}

// Merge merges secondary into primary.
func (m *Merger) Merge(primary, secondary records.Tree) records.Tree {
	tree, _ := m.MergeWithReport(primary, secondary)
	return tree
}

// MergeWithReport merges secondary into primary and reports what happened.
func (m *Merger) MergeWithReport(primary, secondary records.Tree) (records.Tree, Report) {
	report := Report{Preference: m.prefer}

	if secondary.IsEmpty() {
		report.Mode = ModeIdentity
		return primary.Clone(), report
	}
	if primary.IsEmpty() {
		report.Mode = ModeIdentity
		return secondary.Clone(), report
	}

	switch {
	case primary.Shape() == records.ShapeSectioned && secondary.Shape() == records.ShapeSectioned:
		report.Mode = ModeSectioned
		return m.mergeSectioned(primary, secondary, &report), report
	case primary.Shape() == records.ShapeFlat && secondary.Shape() == records.ShapeFlat:
		report.Mode = ModeFlat
		fm := m.fieldMerge(true, &report)
		return records.FlatTree(fm.merge("", primary.Flat(), secondary.Flat())), report
	case primary.Shape() == records.ShapeSectioned:
		report.Mode = ModeMixed
		return m.foldFlat(primary, secondary, true, &report), report
	default:
		report.Mode = ModeMixed
		return m.foldFlat(secondary, primary, false, &report), report
	}
}

// mergeSectioned walks primary in order, pairing each section with the next
// unconsumed secondary section of the same title. Repeated titles pair by
// occurrence: the second primary "Ägare" meets the second secondary "Ägare".
func (m *Merger) mergeSectioned(primary, secondary records.Tree, report *Report) records.Tree {
	pending := secondary.Sections()
	consumed := make([]bool, len(pending))
	byTitle := make(map[string][]int, len(pending))
	for i, s := range pending {
		byTitle[s.Title] = append(byTitle[s.Title], i)
	}

	fm := m.fieldMerge(true, report)
	out := make([]records.Section, 0, len(primary.Sections())+len(pending))
	for _, section := range primary.Sections() {
		queue := byTitle[section.Title]
		if len(queue) == 0 {
			out = append(out, records.Section{Title: section.Title, Data: records.CloneFields(section.Data)})
			continue
		}
		idx := queue[0]
		byTitle[section.Title] = queue[1:]
		consumed[idx] = true

		report.Matched = append(report.Matched, section.Title)
		out = append(out, records.Section{
			Title: section.Title,
			Data:  fm.merge(section.Title, section.Data, pending[idx].Data),
		})
	}

	for i, s := range pending {
		if consumed[i] {
			continue
		}
		report.Appended = append(report.Appended, s.Title)
		out = append(out, records.Section{Title: s.Title, Data: records.CloneFields(s.Data)})
	}
	return records.SectionedTree(out...)
}

// foldFlat places each flat field into the first backbone section already
// holding that field name. Fields no section knows go into a trailing
// untitled section.
func (m *Merger) foldFlat(sectioned, flat records.Tree, sectionedIsPrimary bool, report *Report) records.Tree {
	backbone := sectioned.Sections()
	buckets := make([]*records.Fields, len(backbone))
	leftover := records.NewFields()

	records.EachField(flat.Flat(), func(name string, v records.Value) {
		for i, s := range backbone {
			if _, ok := s.Data.Get(name); ok {
				if buckets[i] == nil {
					buckets[i] = records.NewFields()
				}
				buckets[i].Set(name, v)
				report.Folded++
				return
			}
		}
		if !v.IsNull() {
			leftover.Set(name, v)
		}
	})

	fm := m.fieldMerge(sectionedIsPrimary, report)
	out := make([]records.Section, 0, len(backbone)+1)
	for i, s := range backbone {
		if buckets[i] == nil {
			out = append(out, records.Section{Title: s.Title, Data: records.CloneFields(s.Data)})
			continue
		}
		out = append(out, records.Section{Title: s.Title, Data: fm.merge(s.Title, s.Data, buckets[i])})
	}
	if leftover.Len() > 0 {
		out = append(out, records.Section{Data: leftover})
	}
	return records.SectionedTree(out...)
}

func (m *Merger) fieldMerge(layoutIsPrimary bool, report *Report) fieldMerge {
	return fieldMerge{
		layoutIsPrimary: layoutIsPrimary,
		layoutWins:      layoutIsPrimary == (m.prefer == PreferPrimary),
		report:          report,
	}
}

// fieldMerge merges two mappings. The layout side decides field order; the
// other side's new fields are appended. layoutWins decides scalar conflicts.
type fieldMerge struct {
	layoutIsPrimary bool
	layoutWins      bool
	report          *Report
}

func (fm fieldMerge) merge(section string, layout, other *records.Fields) *records.Fields {
	return fm.mergeAt(section, "", layout, other)
}

func (fm fieldMerge) mergeAt(section, prefix string, layout, other *records.Fields) *records.Fields {
	out := records.NewFields()

	records.EachField(layout, func(name string, lv records.Value) {
		var ov records.Value
		if other != nil {
			ov, _ = other.Get(name)
		}
		if merged, keep := fm.value(section, prefix+name, lv, ov); keep {
			out.Set(name, merged)
		}
	})

	records.EachField(other, func(name string, ov records.Value) {
		if layout != nil {
			if _, inLayout := layout.Get(name); inLayout {
				return
			}
		}
		if !ov.IsNull() {
			out.Set(name, ov.Clone())
		}
	})
	return out
}

// value merges one field. Both null drops the field.
func (fm fieldMerge) value(section, field string, lv, ov records.Value) (records.Value, bool) {
	switch {
	case lv.IsNull() && ov.IsNull():
		return records.Value{}, false
	case ov.IsNull():
		return lv.Clone(), true
	case lv.IsNull():
		return ov.Clone(), true
	}

	if lv.Kind() == records.KindObject && ov.Kind() == records.KindObject {
		return records.Object(fm.mergeAt(section, field+".", lv.ObjectFields(), ov.ObjectFields())), true
	}
	if lv.Kind() == records.KindList && ov.Kind() == records.KindList {
		return unionList(lv, ov), true
	}

	winner := ov
	if fm.layoutWins {
		winner = lv
	}
	if !lv.Equal(ov) {
		fm.conflict(section, field, lv, ov, winner)
	}
	return winner.Clone(), true
}

func (fm fieldMerge) conflict(section, field string, lv, ov, resolved records.Value) {
	c := Conflict{Section: section, Field: field, Resolved: resolved}
	if fm.layoutIsPrimary {
		c.Primary, c.Secondary = lv, ov
	} else {
		c.Primary, c.Secondary = ov, lv
	}
	fm.report.Conflicts = append(fm.report.Conflicts, c)
}

// unionList keeps first's order and appends values of second it lacks.
func unionList(first, second records.Value) records.Value {
	items := make([]records.Value, 0, len(first.ListValues())+len(second.ListValues()))
	for _, v := range first.ListValues() {
		items = append(items, v.Clone())
	}
	for _, v := range second.ListValues() {
		if !containsValue(items, v) {
			items = append(items, v.Clone())
		}
	}
	return records.List(items...)
}

func containsValue(list []records.Value, v records.Value) bool {
	for _, item := range list {
		if item.Equal(v) {
			return true
		}
	}
	return false
}
