// Package pipeline drives books through the processing stages. Each
// stage is a queue-fed worker loop that moves a book one state forward;
// the state machine transitions are guarded so a crashed or duplicated
// worker can never advance a book twice.
package pipeline

import (
	"context"
	"fmt"

	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/types"
)

// Descriptor describes one pipeline stage: which queue feeds it, which
// state transitions bracket it, and the progress window it covers.
type Descriptor struct {
	// Name is the stage and queue name.
	Name string
	// Entry is the state a book must be in for this stage to pick it up.
	// For every stage but the first, Entry equals Active and the entry
	// transition is an idempotent refresh on redelivery.
	Entry types.State
	// Active is the state while the stage runs.
	Active types.State
	// Next is the state after the stage completes.
	Next types.State
	// NextQueue is the queue to feed on completion; empty for the last stage.
	NextQueue string
	// StartPercent and DonePercent bound the stage's progress window.
	StartPercent int
	DonePercent  int
}

// Stages returns the pipeline stages in execution order.
func Stages() []Descriptor {
	return []Descriptor{
		{
			Name:         queue.QueueExtract,
			Entry:        types.StatePending,
			Active:       types.StateExtracting,
			Next:         types.StateSegmenting,
			NextQueue:    queue.QueueSegment,
			StartPercent: 0,
			DonePercent:  10,
		},
		{
			Name:         queue.QueueSegment,
			Entry:        types.StateSegmenting,
			Active:       types.StateSegmenting,
			Next:         types.StateSynthesizing,
			NextQueue:    queue.QueueSynthesize,
			StartPercent: 10,
			DonePercent:  25,
		},
		{
			Name:         queue.QueueSynthesize,
			Entry:        types.StateSynthesizing,
			Active:       types.StateSynthesizing,
			Next:         types.StatePackaging,
			NextQueue:    queue.QueuePackage,
			StartPercent: 25,
			DonePercent:  50,
		},
		{
			Name:         queue.QueuePackage,
			Entry:        types.StatePackaging,
			Active:       types.StatePackaging,
			Next:         types.StateCompleted,
			NextQueue:    "",
			StartPercent: 50,
			DonePercent:  100,
		},
	}
}

// StageByName looks up a stage descriptor.
func StageByName(name string) (Descriptor, error) {
	for _, d := range Stages() {
		if d.Name == name {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("unknown stage %q", name)
}

// StageForState returns the stage whose active state matches, used by
// the boot sweep to requeue interrupted books. Pending maps to the
// first stage.
func StageForState(state types.State) (Descriptor, bool) {
	for _, d := range Stages() {
		if d.Entry == state || d.Active == state {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Handler performs the work of one stage for one book. Implementations
// read inputs from the blob store and write this stage's artifacts;
// state transitions are the runner's job, not the handler's.
type Handler interface {
	// Descriptor returns the stage this handler implements.
	Descriptor() Descriptor
	// Process runs the stage work for one job. It must be safe to call
	// again for the same book after a crash: artifact writes are
	// expected to be idempotent overwrites.
	Process(ctx context.Context, book *types.Book, job queue.Job) error
}
