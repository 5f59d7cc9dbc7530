package pairing

// lotQueue is a FIFO ring buffer of open lots. Lots are stored by value and
// mutated in place through front().
type lotQueue struct {
	buf  []lot
	head int
	size int
}

func (q *lotQueue) len() int { return q.size }

func (q *lotQueue) empty() bool { return q.size == 0 }

// front returns a pointer to the oldest lot. Callers must check empty first.
func (q *lotQueue) front() *lot {
	return &q.buf[q.head]
}

func (q *lotQueue) popFront() lot {
	l := q.buf[q.head]
	q.buf[q.head] = lot{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	if q.size == 0 {
		q.head = 0
	}
	return l
}

func (q *lotQueue) pushBack(l lot) {
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = l
	q.size++
}

func (q *lotQueue) grow() {
	next := len(q.buf) * 2
	if next == 0 {
		next = 8
	}
	buf := make([]lot, next)
	for i := 0; i < q.size; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}

// drain returns the remaining lots oldest first and empties the queue.
func (q *lotQueue) drain() []lot {
	out := make([]lot, 0, q.size)
	for !q.empty() {
		out = append(out, q.popFront())
	}
	return out
}
