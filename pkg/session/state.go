// Package session keeps the per-browser dashboard state: the agent id overrides entered in
// settings and the call state machine Idle -> Starting -> {Active, Failed}.
package session

import (
	"time"

	"github.com/go-go-golems/voicedesk/pkg/bootstrap"
	"github.com/go-go-golems/voicedesk/pkg/identity"
	"github.com/go-go-golems/voicedesk/pkg/personas"
	"github.com/pkg/errors"
)

type CallState string

const (
	Idle     CallState = "idle"
	Starting CallState = "starting"
	Active   CallState = "active"
	Failed   CallState = "failed"
)

var ErrInvalidTransition = errors.New("invalid call state transition")

type State struct {
	ID        string                 `json:"id"`
	Overrides identity.Overrides     `json:"overrides"`
	Selected  personas.Key           `json:"selected,omitempty"`
	Call      CallState              `json:"call"`
	Attempt   uint64                 `json:"attempt"`
	Session   *bootstrap.SessionInfo `json:"session,omitempty"`
	Problem   *bootstrap.Problem     `json:"problem,omitempty"`
	// WidgetServed is set once a page has received the call's access token.
	WidgetServed bool      `json:"widget_served,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func New(id string) *State {
	return &State{
		ID:        id,
		Overrides: identity.Overrides{},
		Call:      Idle,
		UpdatedAt: time.Now(),
	}
}

// Clone returns a deep copy, session payload excluded (it is never mutated in place).
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Overrides = make(identity.Overrides, len(s.Overrides))
	for k, v := range s.Overrides {
		c.Overrides[k] = v
	}
	if s.Problem != nil {
		p := *s.Problem
		c.Problem = &p
	}
	return &c
}

// ReplaceOverrides swaps the override map wholesale.
func (s *State) ReplaceOverrides(o identity.Overrides) {
	if o == nil {
		o = identity.Overrides{}
	}
	s.Overrides = o
	s.touch()
}

// Begin selects a persona and enters Starting. A newer Begin supersedes a pending one; the
// returned attempt number identifies this selection.
func (s *State) Begin(key personas.Key) (uint64, error) {
	switch s.Call {
	case Idle, Failed, Starting, "":
	default:
		return 0, errors.Wrapf(ErrInvalidTransition, "cannot start a call while %s", s.Call)
	}
	s.Attempt++
	s.Selected = key
	s.Call = Starting
	s.Session = nil
	s.Problem = nil
	s.WidgetServed = false
	s.touch()
	return s.Attempt, nil
}

// Complete records a successful bootstrap. It reports false when attempt is no longer current.
func (s *State) Complete(attempt uint64, info *bootstrap.SessionInfo) bool {
	if !s.current(attempt) {
		return false
	}
	s.Call = Active
	s.Session = info
	s.Problem = nil
	s.WidgetServed = false
	s.touch()
	return true
}

// Fail records a failed bootstrap. It reports false when attempt is no longer current.
func (s *State) Fail(attempt uint64, p bootstrap.Problem) bool {
	if !s.current(attempt) {
		return false
	}
	s.Call = Failed
	s.Session = nil
	s.Problem = &p
	s.touch()
	return true
}

// Reset returns to Idle. Later results of any in-flight attempt are discarded.
func (s *State) Reset() {
	s.Attempt++
	s.Call = Idle
	s.Selected = ""
	s.Session = nil
	s.Problem = nil
	s.WidgetServed = false
	s.touch()
}

// ServeWidget marks the active call's widget as handed to a page. Access tokens are single
// use, so it reports true only the first time.
func (s *State) ServeWidget() bool {
	if s.Call != Active || s.WidgetServed {
		return false
	}
	s.WidgetServed = true
	s.touch()
	return true
}

func (s *State) current(attempt uint64) bool {
	return s.Call == Starting && s.Attempt == attempt
}

func (s *State) touch() {
	s.UpdatedAt = time.Now()
}
