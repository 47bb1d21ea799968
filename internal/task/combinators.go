package task

// YieldOnce is a Poll that is Pending exactly once, then Ready. Used by
// read on an empty pipe to yield the task.
type YieldOnce struct {
	yielded bool
}

func (y *YieldOnce) Poll(cx *Context) Outcome {
	if !y.yielded {
		y.yielded = true
		cx.Waker().Wake()
		return Pending()
	}
	return Ready(nil, nil)
}

// YieldNow blocks the executor's BlockOn/pollOnce cycle for exactly one
// poll round, the cooperative-multitasking equivalent of a bare yield
// point.
func YieldNow(e *Executor) {
	e.BlockOn(&YieldOnce{})
}

// Select polls a and b in turn on every poll round and returns whichever
// becomes Ready first; if both are ready on the same round, a wins. This
// is how timeouts are composed: pair the operation with a timer.Timer's
// Poll.
type Select struct {
	A, B Poll
}

func (s *Select) Poll(cx *Context) Outcome {
	if s.A != nil {
		if out := s.A.Poll(cx); out.Ready {
			return out
		}
	}
	if s.B != nil {
		if out := s.B.Poll(cx); out.Ready {
			return out
		}
	}
	return Pending()
}
