package records

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shape is the normalized layout of a record payload.
type Shape int

const (
	// ShapeEmpty carries no data
	ShapeEmpty Shape = iota
	// ShapeSectioned is an ordered list of titled sections
	ShapeSectioned
	// ShapeFlat is a single mapping with no section structure
	ShapeFlat
)

func (s Shape) String() string {
	switch s {
	case ShapeSectioned:
		return "sectioned"
	case ShapeFlat:
		return "flat"
	default:
		return "empty"
	}
}

// Section is a named group of related fields, e.g. "Fordon".
// An untitled section has an empty Title.
type Section struct {
	Title string
	Data  *Fields
}

// Tree is the tagged union every payload is normalized into at ingestion.
// Exactly one of sections/flat is meaningful, selected by shape.
type Tree struct {
	shape    Shape
	sections []Section
	flat     *Fields
}

// EmptyTree returns a tree with no data.
func EmptyTree() Tree {
	return Tree{}
}

// SectionedTree builds a sectioned tree. No sections is the empty tree.
func SectionedTree(sections ...Section) Tree {
	if len(sections) == 0 {
		return Tree{}
	}
	for i := range sections {
		if sections[i].Data == nil {
			sections[i].Data = NewFields()
		}
	}
	return Tree{shape: ShapeSectioned, sections: sections}
}

// FlatTree builds a flat tree. A nil or empty mapping is the empty tree.
func FlatTree(f *Fields) Tree {
	if fieldCount(f) == 0 {
		return Tree{}
	}
	return Tree{shape: ShapeFlat, flat: f}
}

// Shape returns which variant t holds.
func (t Tree) Shape() Shape {
	return t.shape
}

// IsEmpty reports whether t carries no data.
func (t Tree) IsEmpty() bool {
	return t.shape == ShapeEmpty
}

// Sections returns the sections of a sectioned tree, nil otherwise.
func (t Tree) Sections() []Section {
	if t.shape != ShapeSectioned {
		return nil
	}
	return t.sections
}

// Flat returns the mapping of a flat tree, nil otherwise.
func (t Tree) Flat() *Fields {
	if t.shape != ShapeFlat {
		return nil
	}
	return t.flat
}

// SectionTitles lists section titles in order.
func (t Tree) SectionTitles() []string {
	titles := make([]string, 0, len(t.sections))
	for _, s := range t.Sections() {
		titles = append(titles, s.Title)
	}
	return titles
}

// Section returns the first section titled title.
func (t Tree) Section(title string) (Section, bool) {
	for _, s := range t.Sections() {
		if s.Title == title {
			return s, true
		}
	}
	return Section{}, false
}

// FieldCount counts top-level fields across all sections.
func (t Tree) FieldCount() int {
	switch t.shape {
	case ShapeSectioned:
		n := 0
		for _, s := range t.sections {
			n += fieldCount(s.Data)
		}
		return n
	case ShapeFlat:
		return fieldCount(t.flat)
	default:
		return 0
	}
}

// Clone deep-copies t.
func (t Tree) Clone() Tree {
	switch t.shape {
	case ShapeSectioned:
		sections := make([]Section, len(t.sections))
		for i, s := range t.sections {
			sections[i] = Section{Title: s.Title, Data: CloneFields(s.Data)}
		}
		return Tree{shape: ShapeSectioned, sections: sections}
	case ShapeFlat:
		return Tree{shape: ShapeFlat, flat: CloneFields(t.flat)}
	default:
		return Tree{}
	}
}

// Equal reports structural equality including order.
func (t Tree) Equal(other Tree) bool {
	if t.shape != other.shape {
		return false
	}
	switch t.shape {
	case ShapeSectioned:
		if len(t.sections) != len(other.sections) {
			return false
		}
		for i := range t.sections {
			if t.sections[i].Title != other.sections[i].Title {
				return false
			}
			if !FieldsEqual(t.sections[i].Data, other.sections[i].Data) {
				return false
			}
		}
		return true
	case ShapeFlat:
		return FieldsEqual(t.flat, other.flat)
	default:
		return true
	}
}

// Lookup finds a top-level field by name. Sections are searched in order
// and the first hit wins.
func (t Tree) Lookup(name string) (Value, bool) {
	switch t.shape {
	case ShapeSectioned:
		for _, s := range t.sections {
			if v, ok := s.Data.Get(name); ok {
				return v, true
			}
		}
	case ShapeFlat:
		return t.flat.Get(name)
	}
	return Value{}, false
}

// Flatten builds a name -> value index over t. The first occurrence of a
// name in layout order wins.
func (t Tree) Flatten() map[string]Value {
	index := make(map[string]Value, t.FieldCount())
	add := func(name string, v Value) {
		if _, seen := index[name]; !seen {
			index[name] = v
		}
	}
	switch t.shape {
	case ShapeSectioned:
		for _, s := range t.sections {
			EachField(s.Data, add)
		}
	case ShapeFlat:
		EachField(t.flat, add)
	}
	return index
}

type sectionJSON struct {
	Title string  `json:"title"`
	Data  *Fields `json:"data"`
}

// MarshalJSON renders empty as null, sectioned as [{title,data}] and flat as an object.
func (t Tree) MarshalJSON() ([]byte, error) {
	switch t.shape {
	case ShapeSectioned:
		out := make([]sectionJSON, len(t.sections))
		for i, s := range t.sections {
			out[i] = sectionJSON{Title: s.Title, Data: s.Data}
		}
		return json.Marshal(out)
	case ShapeFlat:
		return t.flat.MarshalJSON()
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON normalizes any accepted payload shape via ParseTree.
func (t *Tree) UnmarshalJSON(data []byte) error {
	tree, err := ParseTree(data)
	if err != nil {
		return err
	}
	*t = tree
	return nil
}

// ParseTree normalizes a raw section payload into a Tree. Accepted shapes:
//
//	null / [] / {}                       -> empty
//	[{"title": ..., "data": {...}}, ...] -> sectioned
//	[{...untitled mapping...}]           -> sectioned, untitled section
//	{"title": ..., "data": {...}}        -> sectioned, one section
//	{...mapping...}                      -> flat
//
// Anything else is malformed.
func ParseTree(raw []byte) (Tree, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Tree{}, nil
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Tree{}, fmt.Errorf("sections: %w", err)
		}
		sections := make([]Section, 0, len(items))
		for i, item := range items {
			obj, err := parseObject(item)
			if err != nil {
				return Tree{}, fmt.Errorf("section %d: %w", i, err)
			}
			if obj == nil {
				continue
			}
			section, ok, err := asSection(obj)
			if err != nil {
				return Tree{}, fmt.Errorf("section %d: %w", i, err)
			}
			if !ok {
				section = Section{Data: obj}
			}
			sections = append(sections, section)
		}
		return SectionedTree(sections...), nil
	case '{':
		obj, err := parseObject(raw)
		if err != nil {
			return Tree{}, err
		}
		section, ok, err := asSection(obj)
		if err != nil {
			return Tree{}, err
		}
		if ok {
			return SectionedTree(section), nil
		}
		return FlatTree(obj), nil
	default:
		return Tree{}, fmt.Errorf("unexpected %q, want object or array", raw[:1])
	}
}

// parseObject decodes an ordered JSON object; null yields nil.
func parseObject(raw []byte) (*Fields, error) {
	var v Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	switch v.Kind() {
	case KindNull:
		return nil, nil
	case KindObject:
		return v.ObjectFields(), nil
	default:
		return nil, fmt.Errorf("expected object")
	}
}

// asSection recognizes {"title": string, "data": object}.
func asSection(obj *Fields) (Section, bool, error) {
	data, hasData := obj.Get("data")
	title, hasTitle := obj.Get("title")
	if !hasData || !hasTitle {
		return Section{}, false, nil
	}
	titleText, isString := title.StringValue()
	if !isString && !title.IsNull() {
		return Section{}, false, fmt.Errorf("section title is not a string")
	}
	switch data.Kind() {
	case KindObject:
		return Section{Title: titleText, Data: data.ObjectFields()}, true, nil
	case KindNull:
		return Section{Title: titleText, Data: NewFields()}, true, nil
	default:
		return Section{}, false, fmt.Errorf("section %q data is not an object", titleText)
	}
}
