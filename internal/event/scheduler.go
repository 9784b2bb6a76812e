package event

import "container/heap"

// Schedule returns the handlers of s that would run for an event with the
// given type and identifier, in execution order.
func Schedule(s *Snapshot, eventType, identifier string) ([]SubscriptionInfo, error) {
	plan, err := schedule(s, eventType, identifier)
	if err != nil {
		return nil, err
	}
	out := make([]SubscriptionInfo, len(plan))
	for i, e := range plan {
		out[i] = e.info.clone()
	}
	return out, nil
}

// schedule selects the enabled handlers matching the event and orders them
// topologically by their dependencies. Dependencies on handlers outside the
// matching set are ignored. Among ready handlers the lowest (priority, id)
// goes first.
func schedule(s *Snapshot, eventType, identifier string) ([]*entry, error) {
	var matched []*entry
	for _, e := range s.entries {
		if e.info.Enabled && e.info.Filter.Matches(eventType, identifier) {
			matched = append(matched, e)
		}
	}
	if len(matched) <= 1 {
		return matched, nil
	}

	index := make(map[string]int, len(matched))
	for i, e := range matched {
		index[e.info.Name] = i
	}

	indegree := make([]int, len(matched))
	dependents := make([][]int, len(matched))
	for i, e := range matched {
		for _, dep := range e.info.Dependencies {
			j, ok := index[dep]
			if !ok {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ready := &readyQueue{entries: matched}
	for i := range matched {
		if indegree[i] == 0 {
			ready.idx = append(ready.idx, i)
		}
	}
	heap.Init(ready)

	order := make([]*entry, 0, len(matched))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, matched[i])
		for _, k := range dependents[i] {
			indegree[k]--
			if indegree[k] == 0 {
				heap.Push(ready, k)
			}
		}
	}

	if len(order) < len(matched) {
		cycle := &CycleError{}
		for i, e := range matched {
			if indegree[i] > 0 {
				cycle.Handlers = append(cycle.Handlers, e.info.Name)
			}
		}
		return nil, cycle
	}
	return order, nil
}

// readyQueue is a min-heap of indexes into entries ordered by
// (priority, id).
type readyQueue struct {
	entries []*entry
	idx     []int
}

func (q *readyQueue) Len() int { return len(q.idx) }

func (q *readyQueue) Less(i, j int) bool {
	a, b := q.entries[q.idx[i]].info, q.entries[q.idx[j]].info
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

func (q *readyQueue) Swap(i, j int) { q.idx[i], q.idx[j] = q.idx[j], q.idx[i] }

func (q *readyQueue) Push(x any) { q.idx = append(q.idx, x.(int)) }

func (q *readyQueue) Pop() any {
	n := len(q.idx)
	x := q.idx[n-1]
	q.idx = q.idx[:n-1]
	return x
}
