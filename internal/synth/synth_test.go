package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/treetrack/treetrack/internal/model"
)

const validDelta = `{
  "tasks": [
    {"id": -1, "title": "Research venues", "posX": 0, "posY": 0, "completed": 0,
     "project_id": 0, "user_id": 0, "color": "#cfe8ff", "locked": 0, "draft": 1},
    {"id": -2, "title": "Book venue", "posX": 0, "posY": 120, "completed": 0,
     "project_id": 0, "user_id": 0, "color": "#ffe4c4", "locked": 0}
  ],
  "dependencies": [
    {"id": -1, "from_task": -1, "to_task": -2, "project_id": 0, "user_id": 0}
  ],
  "summary": "Two venue tasks in sequence."
}`

func TestParseDelta_Valid(t *testing.T) {
	d, err := ParseDelta([]byte(validDelta))
	if err != nil {
		t.Fatalf("ParseDelta() failed: %v", err)
	}
	if len(d.Tasks) != 2 || len(d.Dependencies) != 1 {
		t.Fatalf("got %d tasks, %d deps", len(d.Tasks), len(d.Dependencies))
	}
	if d.Tasks[0].Title != "Research venues" || d.Tasks[0].ID != -1 {
		t.Errorf("tasks[0] = %+v", d.Tasks[0])
	}
	if d.Summary != "Two venue tasks in sequence." {
		t.Errorf("summary = %q", d.Summary)
	}
}

func TestParseDelta_DraftDefaultsOn(t *testing.T) {
	d, err := ParseDelta([]byte(validDelta))
	if err != nil {
		t.Fatalf("ParseDelta() failed: %v", err)
	}
	// The second task omits draft entirely.
	if d.Tasks[1].Draft != 1 {
		t.Errorf("draft = %d, want 1 when omitted", d.Tasks[1].Draft)
	}
}

func TestParseDelta_MissingSummaryRepaired(t *testing.T) {
	for _, payload := range []string{
		`{"tasks": [], "dependencies": []}`,
		`{"tasks": [], "dependencies": [], "summary": ""}`,
	} {
		d, err := ParseDelta([]byte(payload))
		if err != nil {
			t.Fatalf("ParseDelta(%s) failed: %v", payload, err)
		}
		if d.Summary != FallbackSummary {
			t.Errorf("summary = %q, want %q", d.Summary, FallbackSummary)
		}
	}
}

func TestParseDelta_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"unknown top-level key", `{"tasks": [], "dependencies": [], "summary": "s", "extra": 1}`},
		{"missing tasks", `{"dependencies": [], "summary": "s"}`},
		{"missing dependencies", `{"tasks": [], "summary": "s"}`},
		{"tasks not an array", `{"tasks": {}, "dependencies": [], "summary": "s"}`},
		{"top level not an object", `[1, 2, 3]`},
		{"task missing title", `{"tasks": [{"id": -1, "posX": 0, "posY": 0, "completed": 0,
			"project_id": 0, "user_id": 0, "color": "#fff", "locked": 0}],
			"dependencies": [], "summary": "s"}`},
		{"task empty title", `{"tasks": [{"id": -1, "title": "", "posX": 0, "posY": 0, "completed": 0,
			"project_id": 0, "user_id": 0, "color": "#fff", "locked": 0}],
			"dependencies": [], "summary": "s"}`},
		{"task unknown key", `{"tasks": [{"id": -1, "title": "A", "posX": 0, "posY": 0, "completed": 0,
			"project_id": 0, "user_id": 0, "color": "#fff", "locked": 0, "priority": 3}],
			"dependencies": [], "summary": "s"}`},
		{"task wrong type", `{"tasks": [{"id": "minus one", "title": "A", "posX": 0, "posY": 0, "completed": 0,
			"project_id": 0, "user_id": 0, "color": "#fff", "locked": 0}],
			"dependencies": [], "summary": "s"}`},
		{"dependency missing endpoint", `{"tasks": [],
			"dependencies": [{"id": -1, "from_task": -1, "project_id": 0, "user_id": 0}],
			"summary": "s"}`},
		{"summary wrong type", `{"tasks": [], "dependencies": [], "summary": 42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDelta([]byte(tt.payload))
			if !errors.Is(err, ErrSchemaViolation) {
				t.Errorf("ParseDelta() = %v, want ErrSchemaViolation", err)
			}
		})
	}
}

func TestParseDelta_InvalidJSON(t *testing.T) {
	_, err := ParseDelta([]byte(`{"tasks": [`))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseDelta() = %v, want ErrMalformed", err)
	}
}

func TestBuildRequest_FreshPlan(t *testing.T) {
	req, err := BuildRequest("plan a conference", nil)
	if err != nil {
		t.Fatalf("BuildRequest() failed: %v", err)
	}
	if !strings.Contains(req.System, "directed acyclic graph") {
		t.Error("system prompt missing DAG instructions")
	}
	if !strings.Contains(req.User, "plan a conference") {
		t.Errorf("user prompt missing goal: %q", req.User)
	}
	if strings.Contains(req.User, "Current project state") {
		t.Error("fresh plan should not include a project state")
	}
}

func TestBuildRequest_WithSnapshot(t *testing.T) {
	color := "#cfe8ff"
	snap := &Snapshot{
		Tasks: []model.Task{
			{ID: 7, Title: "Research venues", ProjectID: 3, UserID: 1, Color: &color, Completed: true},
		},
		Dependencies: []model.Dependency{
			{ID: 2, FromTask: 7, ToTask: 9, ProjectID: 3, UserID: 1},
		},
	}

	req, err := BuildRequest("add catering", snap)
	if err != nil {
		t.Fatalf("BuildRequest() failed: %v", err)
	}
	if !strings.Contains(req.User, "Current project state") {
		t.Error("snapshot request missing project state preamble")
	}
	if !strings.Contains(req.User, `"Research venues"`) {
		t.Error("snapshot request missing task data")
	}
	// Flags travel as integers so the state matches the schema shape.
	if !strings.Contains(req.User, `"completed": 1`) {
		t.Errorf("completed flag not serialized as integer:\n%s", req.User)
	}
	if !strings.Contains(req.User, "add catering") {
		t.Error("snapshot request missing goal")
	}
}

// fakeProvider replays a canned response or error.
type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Complete(ctx context.Context, system, user string) (string, error) {
	return f.response, f.err
}

func TestSynthesize_StripsFences(t *testing.T) {
	c := NewClient(&fakeProvider{response: "```json\n" + validDelta + "\n```"})
	d, err := c.Synthesize(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Synthesize() failed: %v", err)
	}
	if len(d.Tasks) != 2 {
		t.Errorf("len(tasks) = %d, want 2", len(d.Tasks))
	}
}

func TestSynthesize_UpstreamFailure(t *testing.T) {
	c := NewClient(&fakeProvider{err: errors.New("connection refused")})
	_, err := c.Synthesize(context.Background(), Request{})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("Synthesize() = %v, want ErrUpstream", err)
	}
}

func TestSynthesize_MalformedResponse(t *testing.T) {
	c := NewClient(&fakeProvider{response: "Sure! Here is a plan for you."})
	_, err := c.Synthesize(context.Background(), Request{})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Synthesize() = %v, want ErrMalformed", err)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"{}", "{}"},
		{"```json\n{}\n```", "{}"},
		{"```\n{}\n```", "{}"},
		{"  {}  ", "{}"},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
