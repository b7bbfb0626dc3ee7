package model

import (
	"fmt"
	"strings"
)

// State is a single named integer code within a state set.
type State struct {
	Name  string `json:"Name"`
	Value int32  `json:"Value"`
}

// StateSet is an ordered enumeration mapping names to integer codes, used by
// state-typed tags. Names are unique within a set.
type StateSet struct {
	Name        string  `json:"Name"`
	Description string  `json:"Description"`
	States      []State `json:"States"`
}

// Validate checks that the set is named and its state names are unique.
func (s *StateSet) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("state set requires a name")
	}
	seen := make(map[string]struct{}, len(s.States))
	for _, st := range s.States {
		key := strings.ToLower(st.Name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("state set %q has duplicate state %q", s.Name, st.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// StateByName resolves a state by name, case-insensitively.
func (s *StateSet) StateByName(name string) (State, bool) {
	for _, st := range s.States {
		if strings.EqualFold(st.Name, name) {
			return st, true
		}
	}
	return State{}, false
}

// StateByValue resolves a state by its integer code.
func (s *StateSet) StateByValue(v int32) (State, bool) {
	for _, st := range s.States {
		if st.Value == v {
			return st, true
		}
	}
	return State{}, false
}
