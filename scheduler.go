package psd2img

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alnah/go-psd2img/internal/logging"
)

// Tier groups priorities for reporting and lane interleaving.
type Tier string

// Priority tiers.
const (
	TierHigh   Tier = "high"   // slices and text
	TierMedium Tier = "medium" // layers without text
	TierLow    Tier = "low"    // layers with text
)

// TierOf returns the tier of a priority.
func TierOf(priority int) Tier {
	switch {
	case priority >= PriorityText:
		return TierHigh
	case priority >= PriorityLayer:
		return TierMedium
	default:
		return TierLow
	}
}

// Per-pixel cost estimates.
const (
	sliceSecondsPerPixel = 0.0001
	nodeSecondsPerPixel  = 0.00005
)

// Scheduler expands a document into render tasks and orders them.
type Scheduler struct {
	projectID string
	logger    *slog.Logger
	newID     func() string
}

// NewScheduler creates a Scheduler for one project.
func NewScheduler(projectID string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		projectID: projectID,
		logger:    logging.OrDiscard(logger),
		newID:     uuid.NewString,
	}
}

// Collect walks the tree depth-first and returns one task per slice and per
// non-empty group, text or raster node. The root produces no task. An empty
// group produces no task but its children are still collected, attached to
// the group's parent.
func (s *Scheduler) Collect(root Node, docSlices []Slice) []*Task {
	var tasks []*Task

	for i := range docSlices {
		sl := docSlices[i]
		if sl.Geometry.Empty() {
			s.logger.Debug("skipping empty slice", slog.String("slice", sliceName(sl)))
			continue
		}
		tasks = append(tasks, &Task{
			RecordID:  s.newID(),
			Kind:      TaskSlice,
			Slice:     &sl,
			ProjectID: s.projectID,
			Priority:  PrioritySlice,
			Area:      sl.Geometry.Area(),
		})
	}

	if root != nil {
		tasks = s.visit(tasks, root, "")
	}
	return tasks
}

func (s *Scheduler) visit(tasks []*Task, n Node, parentID string) []*Task {
	kind := Classify(n)
	geom := n.Geometry()

	switch kind {
	case NodeRoot:
		for _, c := range n.Children() {
			tasks = s.visit(tasks, c, parentID)
		}
		return tasks

	case NodeGroup:
		childParent := parentID
		if geom.Empty() {
			s.logger.Debug("empty group, collecting children only", slog.String("node", n.Name()))
		} else {
			t := s.nodeTask(n, kind, parentID)
			t.IsGroup = true
			tasks = append(tasks, t)
			childParent = t.RecordID
		}
		for _, c := range n.Children() {
			tasks = s.visit(tasks, c, childParent)
		}
		return tasks

	default:
		if geom.Empty() {
			s.logger.Debug("skipping empty node", slog.String("node", n.Name()))
			return tasks
		}
		return append(tasks, s.nodeTask(n, kind, parentID))
	}
}

func (s *Scheduler) nodeTask(n Node, kind NodeKind, parentID string) *Task {
	t := &Task{
		RecordID:  s.newID(),
		NodeKind:  kind,
		Node:      n,
		ProjectID: s.projectID,
		ParentID:  parentID,
		Area:      n.Geometry().Area(),
	}
	if kind == NodeText {
		t.Kind = TaskText
		t.Priority = PriorityText
		t.HasText = true
		return t
	}
	t.Kind = TaskLayer
	t.HasText = containsText(n)
	t.Priority = PriorityLayer
	if t.HasText {
		t.Priority = PriorityLayerWithText
	}
	return t
}

// Prioritize returns tasks ordered by priority descending. Slices and text
// break ties by area descending; layers by has-text ascending, then area
// descending. The input slice is not modified.
func Prioritize(tasks []*Task) []*Task {
	out := slices.Clone(tasks)
	slices.SortStableFunc(out, func(a, b *Task) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if a.Kind == TaskLayer && b.Kind == TaskLayer && a.HasText != b.HasText {
			if a.HasText {
				return 1
			}
			return -1
		}
		return cmp.Compare(b.Area, a.Area)
	})
	return out
}

// GroupByPriority splits tasks into tiers, keeping order within each.
func GroupByPriority(tasks []*Task) map[Tier][]*Task {
	groups := map[Tier][]*Task{TierHigh: nil, TierMedium: nil, TierLow: nil}
	for _, t := range tasks {
		tier := TierOf(t.Priority)
		groups[tier] = append(groups[tier], t)
	}
	return groups
}

// OptimizeForParallelism deals the tasks of each priority round-robin into
// lanes and concatenates the lanes priority by priority, so consecutive
// dispatches mix large and small tasks of equal priority. tasks must already
// be prioritized; priority order is preserved.
func OptimizeForParallelism(tasks []*Task, lanes int) []*Task {
	if lanes <= 1 || len(tasks) <= lanes {
		return slices.Clone(tasks)
	}

	out := make([]*Task, 0, len(tasks))
	for start := 0; start < len(tasks); {
		end := start
		for end < len(tasks) && tasks[end].Priority == tasks[start].Priority {
			end++
		}
		buckets := make([][]*Task, lanes)
		for i, t := range tasks[start:end] {
			buckets[i%lanes] = append(buckets[i%lanes], t)
		}
		for _, b := range buckets {
			out = append(out, b...)
		}
		start = end
	}
	return out
}

// EstimateProcessingTime returns a rough runtime from total area.
func EstimateProcessingTime(tasks []*Task) time.Duration {
	var seconds float64
	for _, t := range tasks {
		rate := nodeSecondsPerPixel
		if t.Kind == TaskSlice {
			rate = sliceSecondsPerPixel
		}
		seconds += float64(t.Area) * rate
	}
	return time.Duration(seconds * float64(time.Second))
}
