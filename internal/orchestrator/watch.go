package orchestrator

import (
	"context"
	"sync"

	"github.com/nice-bills/chain-segment/internal/domain"
)

// hub fans job snapshots out to watchers. Publishing never blocks; the
// subscriber buffer holds every transition a job can make after pending.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan *domain.Job]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan *domain.Job]struct{})}
}

func (h *hub) subscribe(jobID string) chan *domain.Job {
	ch := make(chan *domain.Job, 3)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan *domain.Job]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	return ch
}

func (h *hub) unsubscribe(jobID string, ch chan *domain.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[jobID], ch)
	if len(h.subs[jobID]) == 0 {
		delete(h.subs, jobID)
	}
}

func (h *hub) publish(job *domain.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[job.ID] {
		select {
		case ch <- job.Clone():
		default:
		}
	}
}

// stateRank orders states along the only legal path.
func stateRank(s domain.JobState) int {
	switch s {
	case domain.JobPending:
		return 0
	case domain.JobRunning:
		return 1
	default:
		return 2
	}
}

func terminal(s domain.JobState) bool {
	return s == domain.JobCompleted || s == domain.JobFailed
}

// Watch streams snapshots of a job: the current one first, then one per
// state change. The channel closes after the terminal snapshot, when ctx
// ends, or when the orchestrator closes.
func (o *Orchestrator) Watch(ctx context.Context, jobID string) (<-chan *domain.Job, error) {
	sub := o.hub.subscribe(jobID)
	job, err := o.Status(ctx, jobID)
	if err != nil {
		o.hub.unsubscribe(jobID, sub)
		return nil, err
	}

	out := make(chan *domain.Job, 1)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.hub.unsubscribe(jobID, sub)
		out <- job
		close(out)
		return out, nil
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer close(out)
		defer o.hub.unsubscribe(jobID, sub)

		send := func(j *domain.Job) bool {
			select {
			case out <- j:
				return true
			case <-ctx.Done():
				return false
			case <-o.ctx.Done():
				return false
			}
		}

		last := job.State
		if !send(job) || terminal(last) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.ctx.Done():
				return
			case j := <-sub:
				if stateRank(j.State) <= stateRank(last) {
					continue
				}
				last = j.State
				if !send(j) || terminal(last) {
					return
				}
			}
		}
	}()
	return out, nil
}
