package psd2img

import "time"

// TaskKind is the scheduling class of a task.
type TaskKind string

// Task kinds. Groups are layer tasks with IsGroup set.
const (
	TaskSlice TaskKind = "slice"
	TaskText  TaskKind = "text"
	TaskLayer TaskKind = "layer"
)

// Scheduling priorities. Higher runs first.
const (
	PrioritySlice         = 100
	PriorityText          = 50
	PriorityLayer         = 30
	PriorityLayerWithText = 10
)

// Task is one unit of render work. It is consumed exactly once.
type Task struct {
	// ID is assigned by the queue at admission.
	ID string
	// RecordID is assigned at collection so children can reference their group.
	RecordID  string
	Kind      TaskKind
	NodeKind  NodeKind
	Node      Node   // nil for slices
	Slice     *Slice // nil for nodes
	ProjectID string
	ParentID  string
	Priority  int
	HasText   bool
	IsGroup   bool
	Area      int
	QueuedAt  time.Time
}

// Name returns the display name of the task's element.
func (t *Task) Name() string {
	if t.Slice != nil {
		return sliceName(*t.Slice)
	}
	if t.Node != nil {
		return t.Node.Name()
	}
	return ""
}

// Geometry returns the authored geometry of the task's element.
func (t *Task) Geometry() Geometry {
	if t.Slice != nil {
		return t.Slice.Geometry
	}
	if t.Node != nil {
		return t.Node.Geometry()
	}
	return Geometry{}
}

func sliceName(s Slice) string {
	if s.Name != "" {
		return s.Name
	}
	return "Slice " + s.ID
}
