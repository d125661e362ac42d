package watch

import "sort"

// HandlerState holds the descriptor states of one registered handler.
type HandlerState struct {
	node        Node
	descriptors map[int]*DescriptorState
}

func newHandlerState(node Node) *HandlerState {
	return &HandlerState{
		node:        node,
		descriptors: make(map[int]*DescriptorState),
	}
}

// Node returns the registry node this state lives at.
func (hs *HandlerState) Node() Node {
	return hs.node
}

// DescriptorState returns the record for fd, if one exists.
func (hs *HandlerState) DescriptorState(fd int) (*DescriptorState, bool) {
	d, ok := hs.descriptors[fd]
	return d, ok
}

func (hs *HandlerState) Len() int {
	return len(hs.descriptors)
}

// FDs returns the descriptor numbers with a live record, in ascending order.
func (hs *HandlerState) FDs() []int {
	fds := make([]int, 0, len(hs.descriptors))
	for fd := range hs.descriptors {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

// descriptorStateFor gets or creates the record for fd. A new record has no interest set.
func (hs *HandlerState) descriptorStateFor(fd int) (d *DescriptorState, created bool) {
	if d, ok := hs.descriptors[fd]; ok {
		return d, false
	}
	d = newDescriptorState(fd, hs)
	hs.descriptors[fd] = d
	return d, true
}

// deleteDescriptorState drops the record for fd. Callers must have checked that
// every flag is clear.
func (hs *HandlerState) deleteDescriptorState(fd int) {
	delete(hs.descriptors, fd)
}
