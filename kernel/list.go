package kernel

// ThreadList is a sorted, intrusive doubly-linked list of threads used
// for the ready list and for every primitive's wait list: ordered by
// descending effective priority, FIFO among threads at the same priority.
// No node is ever allocated separately from the TCB it holds; insertion
// and removal only relink TCB.link pointers, matching the teacher's and
// original_source's allocation-free control-block containers.
type ThreadList struct {
	head, tail *TCB
}

// insertAt walks from the head and inserts t immediately before the first
// entry whose effective priority is lower than searchPriority. Passing
// searchPriority == t.EffectivePriority() lands t after every existing
// entry at the same priority (tail of its group, preserving FIFO order
// among equals); passing effectivePriority+1 lands it before them (head
// of its group), which is exactly what Reposition needs when a thread's
// priority is being lowered.
func (l *ThreadList) insertAt(t *TCB, searchPriority int) {
	var cur *TCB
	for cur = l.head; cur != nil; cur = cur.link.next {
		if cur.EffectivePriority() < searchPriority {
			break
		}
	}

	t.list = l

	if cur == nil {
		t.link.prev = l.tail
		t.link.next = nil
		if l.tail != nil {
			l.tail.link.next = t
		} else {
			l.head = t
		}
		l.tail = t
		return
	}

	t.link.next = cur
	t.link.prev = cur.link.prev
	if cur.link.prev != nil {
		cur.link.prev.link.next = t
	} else {
		l.head = t
	}
	cur.link.prev = t
}

// Insert adds t to the list at the tail of its priority group. If t is
// still on another list (a thread moving from the ready list straight onto
// a primitive's wait list), it is removed from that list first, so a TCB
// is never linked into two lists at once.
func (l *ThreadList) Insert(t *TCB) {
	if t.list != nil {
		t.list.Remove(t)
	}
	l.insertAt(t, t.EffectivePriority())
}

// Remove detaches t from the list. A no-op if t is not on this list.
func (l *ThreadList) Remove(t *TCB) {
	if t.list != l {
		return
	}
	if t.link.prev != nil {
		t.link.prev.link.next = t.link.next
	} else if l.head == t {
		l.head = t.link.next
	}
	if t.link.next != nil {
		t.link.next.link.prev = t.link.prev
	} else if l.tail == t {
		l.tail = t.link.prev
	}
	t.link.prev = nil
	t.link.next = nil
	t.list = nil
}

// Reposition removes and reinserts t after its effective priority has
// changed. loweringBefore must be true when the change is a decrease in
// t's effective priority, placing t at the head of its new group instead
// of the tail, so the thread that just dropped into the group runs ahead
// of the threads that were already waiting at that priority.
func (l *ThreadList) Reposition(t *TCB, loweringBefore bool) {
	l.Remove(t)
	searchPriority := t.EffectivePriority()
	if loweringBefore {
		searchPriority++
	}
	l.insertAt(t, searchPriority)
}

func (l *ThreadList) Front() *TCB { return l.head }
func (l *ThreadList) Empty() bool { return l.head == nil }

// PopFront removes and returns the highest-priority (head) entry, or nil
// if the list is empty.
func (l *ThreadList) PopFront() *TCB {
	t := l.head
	if t != nil {
		l.Remove(t)
	}
	return t
}

// Each calls fn for every thread currently on the list, head to tail.
// fn must not mutate the list.
func (l *ThreadList) Each(fn func(*TCB)) {
	for cur := l.head; cur != nil; cur = cur.link.next {
		fn(cur)
	}
}
