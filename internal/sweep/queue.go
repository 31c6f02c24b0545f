package sweep

// experimentQueue is a max-heap of experiments ordered by Experiment.Less:
// highest priority first, ties by ascending experiment ID. It implements
// container/heap.Interface and is guarded by the scheduler's mutex.
type experimentQueue []*Experiment

func (q experimentQueue) Len() int { return len(q) }

func (q experimentQueue) Less(i, j int) bool { return q[i].Less(q[j]) }

func (q experimentQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *experimentQueue) Push(x any) { *q = append(*q, x.(*Experiment)) }

func (q *experimentQueue) Pop() any {
	old := *q
	n := len(old)
	exp := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return exp
}
