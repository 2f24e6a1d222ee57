package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/meridianlabs/meridian/internal/model"
)

// MilestoneDetector reports cumulative-yield thresholds newly crossed since
// the last check. Each threshold fires exactly once; a later decrease in the
// total never re-arms it. Only the administrative reset clears the
// reached-set.
type MilestoneDetector struct {
	ladder []model.Milestone // ascending by threshold

	mu      sync.Mutex
	reached map[model.Amount]bool
}

// NewMilestoneDetector builds a detector over the given ladder, pre-marking
// alreadyReached thresholds (loaded from the persisted aggregate) so restarts
// do not re-fire old milestones.
func NewMilestoneDetector(ladder []model.Milestone, alreadyReached []model.Amount) *MilestoneDetector {
	sorted := append([]model.Milestone(nil), ladder...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

	reached := make(map[model.Amount]bool, len(alreadyReached))
	for _, t := range alreadyReached {
		reached[t] = true
	}
	return &MilestoneDetector{ladder: sorted, reached: reached}
}

// Check emits one event per threshold <= total that has not fired before,
// in ascending threshold order, and marks those thresholds reached.
func (d *MilestoneDetector) Check(total model.Amount) []model.MilestoneEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var events []model.MilestoneEvent
	now := time.Now().UTC()
	for _, m := range d.ladder {
		if m.Threshold > total {
			break
		}
		if d.reached[m.Threshold] {
			continue
		}
		d.reached[m.Threshold] = true
		events = append(events, model.MilestoneEvent{
			Milestone: m,
			Total:     total,
			ReachedAt: now,
		})
	}
	return events
}

// Reset clears the reached-set. Called only from the administrative reset.
func (d *MilestoneDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reached = make(map[model.Amount]bool)
}
