// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "encoding/json"

// CompletedSet is a set of task ids that remembers insertion order, so the
// sequence in which tasks finished survives merges. Equality ignores order.
type CompletedSet struct {
	ids []string
}

// NewCompletedSet builds a set from ids, dropping duplicates.
func NewCompletedSet(ids ...string) CompletedSet {
	var s CompletedSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Has reports whether id is in the set.
func (s CompletedSet) Has(id string) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

// Add inserts id at the end. It returns false if id was already present.
func (s *CompletedSet) Add(id string) bool {
	if id == "" || s.Has(id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Remove deletes id and reports whether it was present.
func (s *CompletedSet) Remove(id string) bool {
	if !s.Has(id) {
		return false
	}
	kept := make([]string, 0, len(s.ids)-1)
	for _, v := range s.ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	s.ids = kept
	return true
}

// Merge adds the ids of o that are not yet present, keeping their order.
func (s *CompletedSet) Merge(o CompletedSet) {
	for _, id := range o.ids {
		s.Add(id)
	}
}

// Retain drops every id for which keep returns false.
func (s *CompletedSet) Retain(keep func(id string) bool) []string {
	var dropped []string
	kept := make([]string, 0, len(s.ids))
	for _, id := range s.ids {
		if keep(id) {
			kept = append(kept, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	s.ids = kept
	return dropped
}

// Len returns the number of ids.
func (s CompletedSet) Len() int { return len(s.ids) }

// IDs returns a copy of the ids in completion order.
func (s CompletedSet) IDs() []string {
	return append([]string(nil), s.ids...)
}

// ContainsAll reports whether every id in ids is in the set.
func (s CompletedSet) ContainsAll(ids []string) bool {
	for _, id := range ids {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

// Equal reports set equality, ignoring completion order.
func (s CompletedSet) Equal(o CompletedSet) bool {
	if len(s.ids) != len(o.ids) {
		return false
	}
	return s.ContainsAll(o.ids)
}

// Diff returns the ids in s that are not in o, in s's order.
func (s CompletedSet) Diff(o CompletedSet) []string {
	var out []string
	for _, id := range s.ids {
		if !o.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Clone returns an independent copy.
func (s CompletedSet) Clone() CompletedSet {
	return CompletedSet{ids: s.IDs()}
}

// MarshalJSON encodes the set as an ordered array.
func (s CompletedSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON decodes an array, dropping duplicates.
func (s *CompletedSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewCompletedSet(ids...)
	return nil
}

// MarshalYAML encodes the set as an ordered sequence.
func (s CompletedSet) MarshalYAML() (any, error) {
	return s.IDs(), nil
}
