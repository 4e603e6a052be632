package synth

import (
	"encoding/json"
	"fmt"
)

// FallbackSummary is substituted when the provider omits or empties the
// summary field. It is the only repair ParseDelta performs silently;
// every other deviation from the schema is a violation.
const FallbackSummary = "No summary provided."

// Delta is a validated synthesis response: the tasks and dependencies
// the provider wants created or edited, still in wire form. Negative
// IDs are placeholders for entities that don't exist yet; non-negative
// IDs claim to edit persisted entities. The merge engine decides what
// actually happens.
type Delta struct {
	Tasks        []DeltaTask       `json:"tasks"`
	Dependencies []DeltaDependency `json:"dependencies"`
	Summary      string            `json:"summary"`
}

// DeltaTask is one task of a delta, with the schema's integer flags.
type DeltaTask struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	PosX      float64 `json:"posX"`
	PosY      float64 `json:"posY"`
	Completed int     `json:"completed"`
	ProjectID int64   `json:"project_id"`
	UserID    int64   `json:"user_id"`
	Color     string  `json:"color"`
	Locked    int     `json:"locked"`
	Draft     int     `json:"draft"`
}

// DeltaDependency is one edge of a delta.
type DeltaDependency struct {
	ID        int64 `json:"id"`
	FromTask  int64 `json:"from_task"`
	ToTask    int64 `json:"to_task"`
	ProjectID int64 `json:"project_id"`
	UserID    int64 `json:"user_id"`
}

var (
	taskKeys = map[string]bool{
		"id": true, "title": true, "posX": true, "posY": true,
		"completed": true, "project_id": true, "user_id": true,
		"color": true, "locked": true, "draft": true,
	}
	taskRequired = []string{
		"id", "title", "posX", "posY", "completed",
		"project_id", "user_id", "color", "locked",
	}
	depKeys = map[string]bool{
		"id": true, "from_task": true, "to_task": true,
		"project_id": true, "user_id": true,
	}
	depRequired = []string{"id", "from_task", "to_task", "project_id", "user_id"}
)

// ParseDelta validates raw provider output against the delta schema and
// returns the structured result.
//
// Unparseable input fails with ErrMalformed. Parseable input that
// breaks the schema — unknown keys, missing required keys, wrong
// types — fails with ErrSchemaViolation. A task's draft flag may be
// absent and defaults to 1: synthesized work arrives as a draft unless
// the provider says otherwise.
func ParseDelta(raw []byte) (*Delta, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: top level is not an object", ErrSchemaViolation)
	}
	for key := range top {
		if key != "tasks" && key != "dependencies" && key != "summary" {
			return nil, fmt.Errorf("%w: unknown top-level key %q", ErrSchemaViolation, key)
		}
	}

	d := &Delta{
		Tasks:        []DeltaTask{},
		Dependencies: []DeltaDependency{},
	}

	rawTasks, ok := top["tasks"]
	if !ok {
		return nil, fmt.Errorf("%w: missing required key %q", ErrSchemaViolation, "tasks")
	}
	var taskItems []json.RawMessage
	if err := json.Unmarshal(rawTasks, &taskItems); err != nil {
		return nil, fmt.Errorf("%w: tasks is not an array", ErrSchemaViolation)
	}
	for i, item := range taskItems {
		t, err := parseDeltaTask(item)
		if err != nil {
			return nil, fmt.Errorf("%w: tasks[%d]: %v", ErrSchemaViolation, i, err)
		}
		d.Tasks = append(d.Tasks, t)
	}

	rawDeps, ok := top["dependencies"]
	if !ok {
		return nil, fmt.Errorf("%w: missing required key %q", ErrSchemaViolation, "dependencies")
	}
	var depItems []json.RawMessage
	if err := json.Unmarshal(rawDeps, &depItems); err != nil {
		return nil, fmt.Errorf("%w: dependencies is not an array", ErrSchemaViolation)
	}
	for i, item := range depItems {
		dep, err := parseDeltaDependency(item)
		if err != nil {
			return nil, fmt.Errorf("%w: dependencies[%d]: %v", ErrSchemaViolation, i, err)
		}
		d.Dependencies = append(d.Dependencies, dep)
	}

	if rawSummary, ok := top["summary"]; ok {
		if err := json.Unmarshal(rawSummary, &d.Summary); err != nil {
			return nil, fmt.Errorf("%w: summary is not a string", ErrSchemaViolation)
		}
	}
	if d.Summary == "" {
		d.Summary = FallbackSummary
	}

	return d, nil
}

func parseDeltaTask(raw json.RawMessage) (DeltaTask, error) {
	fields, err := objectFields(raw, taskKeys, taskRequired)
	if err != nil {
		return DeltaTask{}, err
	}

	t := DeltaTask{Draft: 1}
	if err := pick(fields, "id", &t.ID); err != nil {
		return DeltaTask{}, err
	}
	if err := pick(fields, "title", &t.Title); err != nil {
		return DeltaTask{}, err
	}
	if t.Title == "" {
		return DeltaTask{}, fmt.Errorf("title must not be empty")
	}
	if err := pick(fields, "posX", &t.PosX); err != nil {
		return DeltaTask{}, err
	}
	if err := pick(fields, "posY", &t.PosY); err != nil {
		return DeltaTask{}, err
	}
	if err := pick(fields, "completed", &t.Completed); err != nil {
		return DeltaTask{}, err
	}
	if err := pick(fields, "project_id", &t.ProjectID); err != nil {
		return DeltaTask{}, err
	}
	if err := pick(fields, "user_id", &t.UserID); err != nil {
		return DeltaTask{}, err
	}
	if err := pick(fields, "color", &t.Color); err != nil {
		return DeltaTask{}, err
	}
	if err := pick(fields, "locked", &t.Locked); err != nil {
		return DeltaTask{}, err
	}
	if _, ok := fields["draft"]; ok {
		if err := pick(fields, "draft", &t.Draft); err != nil {
			return DeltaTask{}, err
		}
	}
	return t, nil
}

func parseDeltaDependency(raw json.RawMessage) (DeltaDependency, error) {
	fields, err := objectFields(raw, depKeys, depRequired)
	if err != nil {
		return DeltaDependency{}, err
	}

	var d DeltaDependency
	if err := pick(fields, "id", &d.ID); err != nil {
		return DeltaDependency{}, err
	}
	if err := pick(fields, "from_task", &d.FromTask); err != nil {
		return DeltaDependency{}, err
	}
	if err := pick(fields, "to_task", &d.ToTask); err != nil {
		return DeltaDependency{}, err
	}
	if err := pick(fields, "project_id", &d.ProjectID); err != nil {
		return DeltaDependency{}, err
	}
	if err := pick(fields, "user_id", &d.UserID); err != nil {
		return DeltaDependency{}, err
	}
	return d, nil
}

// objectFields unmarshals raw as an object and enforces the allowed and
// required key sets.
func objectFields(raw json.RawMessage, allowed map[string]bool, required []string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("not an object")
	}
	for key := range fields {
		if !allowed[key] {
			return nil, fmt.Errorf("unknown key %q", key)
		}
	}
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("missing required key %q", key)
		}
	}
	return fields, nil
}

// pick unmarshals one field into dst, reporting type mismatches by key.
func pick(fields map[string]json.RawMessage, key string, dst interface{}) error {
	if err := json.Unmarshal(fields[key], dst); err != nil {
		return fmt.Errorf("field %q has the wrong type", key)
	}
	return nil
}
