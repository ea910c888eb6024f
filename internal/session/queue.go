package session

// frameQueue holds frames accepted by Forward until the send loop transmits
// them. It is guarded by the owning Session's mutex.
type frameQueue struct {
	frames [][]byte
}

func (q *frameQueue) push(frame []byte) {
	q.frames = append(q.frames, frame)
}

func (q *frameQueue) pop() ([]byte, bool) {
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return f, true
}

func (q *frameQueue) reset() int {
	n := len(q.frames)
	q.frames = nil
	return n
}
