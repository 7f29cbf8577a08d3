package main

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"radtrack/internal/session"
)

// displayName turns a wire identifier like "report_synthesis" into a
// human-facing label.
func displayName(id string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(id), "_", " ")
	return cases.Title(language.Und).String(cleaned)
}

type stageView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Detail   string  `json:"detail,omitempty"`
}

type agentView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Task   string `json:"task,omitempty"`
}

type failureView struct {
	Kind  string    `json:"kind"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

type sessionView struct {
	WorkflowID string        `json:"workflowId"`
	Connected  bool          `json:"connected"`
	Polling    bool          `json:"polling"`
	Overall    float64       `json:"overall"`
	Completed  bool          `json:"completed"`
	Failed     bool          `json:"failed"`
	Stages     []stageView   `json:"stages"`
	Agents     []agentView   `json:"agents"`
	Failures   []failureView `json:"failures,omitempty"`
}

func newSessionView(snap session.Snapshot) sessionView {
	view := sessionView{
		WorkflowID: snap.WorkflowID,
		Connected:  snap.Connected,
		Polling:    snap.Polling,
		Overall:    snap.Stages.Overall,
		Completed:  snap.Completed,
		Failed:     snap.Failed,
	}
	for _, st := range snap.Stages.Stages {
		view.Stages = append(view.Stages, stageView{
			ID:       string(st.ID),
			Name:     displayName(string(st.ID)),
			Status:   string(st.Status),
			Progress: st.Progress,
			Detail:   st.ErrorDetail,
		})
	}
	for _, agent := range snap.Agents {
		view.Agents = append(view.Agents, agentView{
			ID:     string(agent.Role),
			Name:   displayName(string(agent.Role)),
			Status: string(agent.Status),
			Task:   agent.Task,
		})
	}
	for _, failure := range snap.Failures {
		fv := failureView{Kind: string(failure.Kind), At: failure.At}
		if failure.Err != nil {
			fv.Error = failure.Err.Error()
		}
		view.Failures = append(view.Failures, fv)
	}
	return view
}
