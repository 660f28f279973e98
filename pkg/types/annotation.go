package types

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
)

// ID is the stable id of an Annotation inside its AnnotationSet. Ids are
// assigned by the set, never reused, and meaningful only within one set.
// Zero means "no reference".
type ID int64

// Reserved owners. The curator owns the merged set and never belongs to an
// annotator roster. The correction owner is an ordinary roster member.
const (
	CuratorOwner    = "CURATION_USER"
	CorrectionOwner = "CORRECTION_USER"
)

// Technical feature names. These are bookkeeping and are never compared or
// copied during merge.
const (
	FeatureBegin = "begin"
	FeatureEnd   = "end"
	FeatureSofa  = "sofa"
	FeatureID    = "id"
)

var technicalFeatures = map[string]bool{
	FeatureBegin: true,
	FeatureEnd:   true,
	FeatureSofa:  true,
	FeatureID:    true,
}

// IsTechnicalFeature reports whether name is one of the built-in technical
// feature names.
func IsTechnicalFeature(name string) bool {
	return technicalFeatures[name]
}

// Link is one role→target pair of a link-valued feature. Target is an id in
// the same AnnotationSet as the annotation holding the link.
type Link struct {
	Role   string `json:"role"`
	Target ID     `json:"target"`
}

// Annotation is one labeled unit produced by one owner.
//
// Relation layers use Source and Target; chain layers use Next to point at the
// successor element. Relation offsets mirror the target endpoint.
type Annotation struct {
	ID       ID                `json:"id"`
	Type     string            `json:"type"`
	Begin    int               `json:"begin"`
	End      int               `json:"end"`
	Features map[string]any    `json:"features,omitempty"`
	Links    map[string][]Link `json:"links,omitempty"`
	Source   ID                `json:"source,omitempty"`
	Target   ID                `json:"target,omitempty"`
	Next     ID                `json:"next,omitempty"`
}

// Feature returns the scalar value of the named feature, or nil.
func (a *Annotation) Feature(name string) any {
	if a.Features == nil {
		return nil
	}
	return a.Features[name]
}

// Clone returns a deep copy of the annotation.
func (a *Annotation) Clone() *Annotation {
	c := *a
	c.Features = maps.Clone(a.Features)
	if a.Links != nil {
		c.Links = make(map[string][]Link, len(a.Links))
		for k, v := range a.Links {
			c.Links[k] = slices.Clone(v)
		}
	}
	return &c
}

func (a *Annotation) String() string {
	return fmt.Sprintf("%s#%d[%d,%d)", a.Type, a.ID, a.Begin, a.End)
}

// AnnotationSet is the arena holding every annotation one owner produced for
// one document. Annotations reference each other by ID only.
type AnnotationSet struct {
	Document string
	Owner    string

	items  map[ID]*Annotation
	nextID ID
}

// NewAnnotationSet returns an empty set for the given document and owner.
func NewAnnotationSet(document, owner string) *AnnotationSet {
	return &AnnotationSet{
		Document: document,
		Owner:    owner,
		items:    make(map[ID]*Annotation),
		nextID:   1,
	}
}

// Add stores a and returns its id. A zero a.ID gets the next free id; a
// non-zero id is kept and must not collide with an existing annotation.
func (s *AnnotationSet) Add(a *Annotation) (ID, error) {
	if s.items == nil {
		s.items = make(map[ID]*Annotation)
	}
	if s.nextID < 1 {
		s.nextID = 1
	}
	if a.ID == 0 {
		a.ID = s.nextID
	} else if _, ok := s.items[a.ID]; ok {
		return 0, fmt.Errorf("annotation %d: %w", a.ID, ErrInvalidID)
	} else if a.ID < 0 {
		return 0, fmt.Errorf("annotation %d: %w", a.ID, ErrInvalidID)
	}
	if a.ID >= s.nextID {
		s.nextID = a.ID + 1
	}
	s.items[a.ID] = a
	return a.ID, nil
}

// Get returns the annotation with the given id, or nil.
func (s *AnnotationSet) Get(id ID) *Annotation {
	if s == nil || id == 0 {
		return nil
	}
	return s.items[id]
}

// Remove deletes the annotation with the given id. It reports whether an
// annotation was removed. References held by other annotations are left to
// the caller.
func (s *AnnotationSet) Remove(id ID) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

// Len returns the number of annotations.
func (s *AnnotationSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// All returns the annotations ordered by begin, end, type and id.
func (s *AnnotationSet) All() []*Annotation {
	if s == nil {
		return nil
	}
	out := make([]*Annotation, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Begin != b.Begin {
			return a.Begin < b.Begin
		}
		if a.End != b.End {
			return a.End < b.End
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return out
}

// Select returns the annotations whose own offsets lie within [begin, end),
// in All order. An end <= 0 means unbounded.
func (s *AnnotationSet) Select(begin, end int) []*Annotation {
	var out []*Annotation
	for _, a := range s.All() {
		if InWindow(a.Begin, a.End, begin, end) {
			out = append(out, a)
		}
	}
	return out
}

// InWindow reports whether the span [begin, end) lies within the window
// [wbegin, wend). A zero-width span belongs to the window that holds its
// offset, so adjacent windows never share it. A wend <= 0 means unbounded.
func InWindow(begin, end, wbegin, wend int) bool {
	switch {
	case begin < wbegin:
		return false
	case wend <= 0:
		return true
	case begin == end:
		return begin < wend
	default:
		return end <= wend
	}
}

// Clone returns a deep copy of the set. Ids are preserved.
func (s *AnnotationSet) Clone() *AnnotationSet {
	c := &AnnotationSet{
		Document: s.Document,
		Owner:    s.Owner,
		items:    make(map[ID]*Annotation, len(s.items)),
		nextID:   s.nextID,
	}
	for id, a := range s.items {
		c.items[id] = a.Clone()
	}
	return c
}

// setJSON is the wire shape of an AnnotationSet.
type setJSON struct {
	Document    string        `json:"document"`
	Owner       string        `json:"owner"`
	NextID      ID            `json:"next_id,omitempty"`
	Annotations []*Annotation `json:"annotations"`
}

// MarshalJSON encodes the set with annotations in All order.
func (s *AnnotationSet) MarshalJSON() ([]byte, error) {
	anns := s.All()
	if anns == nil {
		anns = []*Annotation{}
	}
	return json.Marshal(setJSON{
		Document:    s.Document,
		Owner:       s.Owner,
		NextID:      s.nextID,
		Annotations: anns,
	})
}

// UnmarshalJSON decodes a set. Duplicate or negative ids are rejected.
func (s *AnnotationSet) UnmarshalJSON(data []byte) error {
	var raw setJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = *NewAnnotationSet(raw.Document, raw.Owner)
	for _, a := range raw.Annotations {
		if a == nil {
			continue
		}
		if _, err := s.Add(a); err != nil {
			return err
		}
	}
	if raw.NextID > s.nextID {
		s.nextID = raw.NextID
	}
	return nil
}
