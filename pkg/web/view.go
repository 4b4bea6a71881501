package web

import (
	"encoding/json"

	"github.com/go-go-golems/voicedesk/pkg/bootstrap"
	"github.com/go-go-golems/voicedesk/pkg/identity"
	"github.com/go-go-golems/voicedesk/pkg/personas"
	"github.com/go-go-golems/voicedesk/pkg/session"
)

type cardView struct {
	personas.Descriptor
	AgentID string
	Source  identity.Source
}

type settingView struct {
	Key         string
	Title       string
	Icon        string
	EnvVar      string
	Value       string
	Placeholder string
	Source      identity.Source
}

type pageView struct {
	Call       session.CallState
	Cards      []cardView
	Settings   []settingView
	Persona    *personas.Descriptor
	Session    *bootstrap.SessionInfo
	Problem    *bootstrap.Problem
	Details    string
	SampleRate int
	// Resumed is set when the call's widget was already served to an earlier page load.
	Resumed bool
}

const overrideFieldPrefix = "agent_id__"

func (s *Server) buildPage(st *session.State) pageView {
	reg := s.svc.Registry()
	resolutions := s.svc.Resolutions(st)

	v := pageView{
		Call:       st.Call,
		Session:    st.Session,
		Problem:    st.Problem,
		SampleRate: bootstrap.SampleRate,
	}
	if v.Call == "" {
		v.Call = session.Idle
	}

	byKey := make(map[string]identity.Resolution, len(resolutions))
	for _, r := range resolutions {
		byKey[r.Key] = r
	}
	for _, d := range reg.All() {
		res := byKey[d.Key]
		v.Cards = append(v.Cards, cardView{Descriptor: d, AgentID: res.AgentID, Source: res.Source})

		placeholder := res.AgentID
		if placeholder == "" {
			placeholder = "Not configured"
		}
		v.Settings = append(v.Settings, settingView{
			Key:         overrideFieldPrefix + d.Key,
			Title:       d.Title,
			Icon:        d.Icon,
			EnvVar:      res.EnvVar,
			Value:       st.Overrides[d.Key],
			Placeholder: placeholder,
			Source:      res.Source,
		})
	}

	if st.Selected != "" {
		if d, err := reg.Get(st.Selected); err == nil {
			v.Persona = &d
		}
	}
	if st.Session != nil {
		if b, err := json.MarshalIndent(st.Session.Payload, "", "  "); err == nil {
			v.Details = string(b)
		}
	}
	return v
}

type personaView struct {
	personas.Descriptor
	EnvVar  string          `json:"env_var"`
	AgentID string          `json:"effective_agent_id"`
	Source  identity.Source `json:"source"`
}

func (s *Server) personaViews(st *session.State) []personaView {
	reg := s.svc.Registry()
	resolutions := s.svc.Resolutions(st)
	ret := make([]personaView, 0, len(resolutions))
	for _, r := range resolutions {
		d, err := reg.Get(r.Key)
		if err != nil {
			continue
		}
		ret = append(ret, personaView{Descriptor: d, EnvVar: r.EnvVar, AgentID: r.AgentID, Source: r.Source})
	}
	return ret
}
