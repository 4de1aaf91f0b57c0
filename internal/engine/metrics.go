package engine

import "time"

// AgentReport records one agent's outcome within a run.
type AgentReport struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Metrics is the structured record of one extraction run.
type Metrics struct {
	RunID     string         `json:"run_id"`
	SessionID string         `json:"session_id"`
	Cycle     int            `json:"cycle"`
	Agents    []AgentReport  `json:"agents"`
	Created   map[string]int `json:"created"`
	Modified  map[string]int `json:"modified"`
	Errors    []string       `json:"errors,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
}

// Summary is what the turn handler gets back: enough to decide whether to
// surface warnings, plus the scene resume for the closing scene.
type Summary struct {
	Success bool    `json:"success"`
	Resume  string  `json:"resume,omitempty"`
	Metrics Metrics `json:"metrics"`
}

func (m *Metrics) agentsOK() int {
	n := 0
	for _, a := range m.Agents {
		if a.OK {
			n++
		}
	}
	return n
}

func (m *Metrics) agentsFailed() int {
	return len(m.Agents) - m.agentsOK()
}

func (m *Metrics) totalCreated() int {
	n := 0
	for _, v := range m.Created {
		n += v
	}
	return n
}

func (m *Metrics) totalModified() int {
	n := 0
	for _, v := range m.Modified {
		n += v
	}
	return n
}
