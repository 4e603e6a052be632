package synth

import (
	"encoding/json"
	"fmt"

	"github.com/treetrack/treetrack/internal/model"
)

// deltaSchema is the exact JSON schema the provider is instructed to
// follow. ParseDelta enforces the same rules on the way back in, so a
// response that drifts from this is rejected as a schema violation
// rather than silently absorbed.
const deltaSchema = `{
  "type": "object",
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "integer"},
          "title": {"type": "string"},
          "posX": {"type": "number"},
          "posY": {"type": "number"},
          "completed": {"type": "integer"},
          "project_id": {"type": "integer"},
          "user_id": {"type": "integer"},
          "color": {"type": "string"},
          "locked": {"type": "integer"},
          "draft": {"type": "integer"}
        },
        "required": ["id", "title", "posX", "posY", "completed", "project_id", "user_id", "color", "locked"],
        "additionalProperties": false
      }
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "integer"},
          "from_task": {"type": "integer"},
          "to_task": {"type": "integer"},
          "project_id": {"type": "integer"},
          "user_id": {"type": "integer"}
        },
        "required": ["id", "from_task", "to_task", "project_id", "user_id"],
        "additionalProperties": false
      }
    },
    "summary": {
      "type": "string"
    }
  },
  "required": ["tasks", "dependencies", "summary"],
  "additionalProperties": false
}`

const systemPrompt = `You are a project planning assistant responsible for generating or editing a complete and logically structured plan to accomplish a high-level goal. The output must be a JSON object containing two parts: an array of 'tasks' and an array of 'dependencies' between them. The input contains the current project state (if provided) in the same structure as the output.

Each task represents a specific, actionable step required to complete the overall goal. The tasks must form a directed acyclic graph (DAG) — some tasks should occur in strict sequence (e.g., A must be done before B), while others can occur in parallel or have no dependency between them.

The graph must show **clear branching**: not every task should just point to the next. There must be **multiple layers**, where:
- Some tasks have multiple children (forks)
- Some tasks have multiple parents (joins)
- Some tasks can be completed in parallel
- The graph converges toward one or more final goal tasks

Consider the real-world logical flow of a project: planning, preparation, execution, testing, and finishing. Organize the tasks accordingly, and only include meaningful dependencies—avoid unnecessary chaining of unrelated steps.

Each task object must include:
- id (integer, negative number if a new task or re-use from the input otherwise)
- title (short, descriptive name)
- posX and posY (default to 0)
- completed (set to 0)
- project_id and user_id (placeholders that will be filled in later)
- color (use a HEX color code to reflect the stage or layer of the task, e.g., planning vs execution; should be pastel-ish as they will be the background for black text)
- locked (set to 0)
- draft (set to 1)

Each dependency object must include:
- id (integer)
- from_task (source task id)
- to_task (destination task id)
- project_id and user_id (same placeholders)

The summary should be a short description of your generated or edited tasks and dependencies. Two sentences, maximum.

Ensure that the output adheres strictly to the following JSON schema:
` + deltaSchema + `

Be thoughtful and detailed. The goal is to create a structured blueprint of the steps needed to achieve the goal, with realistic precedence and parallelization. Output only the JSON structure for the tasks and dependencies, adhering strictly to the schema provided. If you are editing existing nodes, only include the ones you have edited in the output.`

// Request is a fully rendered synthesis prompt pair, ready to hand to a
// Provider.
type Request struct {
	System string
	User   string
}

// Snapshot is the current graph of one project, shipped to the provider
// so it can edit in place instead of planning from scratch.
type Snapshot struct {
	Tasks        []model.Task       `json:"tasks"`
	Dependencies []model.Dependency `json:"dependencies"`
}

// snapshotWire mirrors Snapshot using the integer-flag wire form the
// schema describes, so the provider sees input and output in one shape.
type snapshotWire struct {
	Tasks        []DeltaTask       `json:"tasks"`
	Dependencies []DeltaDependency `json:"dependencies"`
}

// BuildRequest renders the prompt pair for a goal. A nil snapshot asks
// for a fresh plan; a non-nil snapshot switches the provider into
// incremental-edit mode, where only edited entities come back.
func BuildRequest(goal string, snapshot *Snapshot) (Request, error) {
	if snapshot == nil {
		return Request{
			System: systemPrompt,
			User:   fmt.Sprintf("Generate a structured project plan based on this user input: '%s'", goal),
		}, nil
	}

	wire := snapshotWire{
		Tasks:        make([]DeltaTask, 0, len(snapshot.Tasks)),
		Dependencies: make([]DeltaDependency, 0, len(snapshot.Dependencies)),
	}
	for _, t := range snapshot.Tasks {
		wire.Tasks = append(wire.Tasks, taskToWire(t))
	}
	for _, d := range snapshot.Dependencies {
		wire.Dependencies = append(wire.Dependencies, DeltaDependency{
			ID: d.ID, FromTask: d.FromTask, ToTask: d.ToTask,
			ProjectID: d.ProjectID, UserID: d.UserID,
		})
	}

	state, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode project snapshot: %w", err)
	}

	return Request{
		System: systemPrompt,
		User: fmt.Sprintf("Current project state:\n%s\n\nPlease generate an updated project plan based on this user input: '%s'.",
			state, goal),
	}, nil
}

func taskToWire(t model.Task) DeltaTask {
	w := DeltaTask{
		ID:        t.ID,
		Title:     t.Title,
		PosX:      t.PosX,
		PosY:      t.PosY,
		Completed: wireBool(t.Completed),
		ProjectID: t.ProjectID,
		UserID:    t.UserID,
		Locked:    wireBool(t.Locked),
		Draft:     wireBool(t.Draft),
	}
	if t.Color != nil {
		w.Color = *t.Color
	}
	return w
}

func wireBool(b bool) int {
	if b {
		return 1
	}
	return 0
}
