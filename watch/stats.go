package watch

import "sort"

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Handlers    int
	Descriptors int
	Readable    int
	Writable    int
	Exception   int
}

// DescriptorInfo describes one live descriptor state.
type DescriptorInfo struct {
	FD       int
	Interest Interest
}

// HandlerInfo describes one registered handler.
type HandlerInfo struct {
	Node        Node
	Handler     string
	Descriptors []DescriptorInfo
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{Handlers: len(r.nodes)}
	for i := range r.slots {
		hs := r.slots[i].state
		if hs == nil {
			continue
		}
		for _, d := range hs.descriptors {
			st.Descriptors++
			if d.NotifyOnReadable() {
				st.Readable++
			}
			if d.NotifyOnWritable() {
				st.Writable++
			}
			if d.NotifyOnException() {
				st.Exception++
			}
		}
	}
	return st
}

// Interest returns the interest h currently holds on fd. ok is false when no
// descriptor state exists for the pair or h is not registered.
func (r *Registry) Interest(h Handler, fd int) (interest Interest, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, registered := r.nodes[h]
	if !registered {
		return InterestNone, false
	}
	d, ok := r.slots[node.slot].state.DescriptorState(fd)
	if !ok {
		return InterestNone, false
	}
	return d.interest, true
}

// Handlers lists every registered handler ordered by node.
func (r *Registry) Handlers() []HandlerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]HandlerInfo, 0, len(r.nodes))
	for h, node := range r.nodes {
		hs := r.slots[node.slot].state
		info := HandlerInfo{Node: node, Handler: handlerType(h)}
		for _, fd := range hs.FDs() {
			info.Descriptors = append(info.Descriptors, DescriptorInfo{FD: fd, Interest: hs.descriptors[fd].interest})
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Node.Less(infos[j].Node)
	})
	return infos
}
