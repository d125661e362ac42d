package watch

// DescriptorState is the registration of one file descriptor under one handler.
// It is owned by its HandlerState and addressed there by descriptor number.
type DescriptorState struct {
	fd       int
	interest Interest
	owner    *HandlerState
}

func newDescriptorState(fd int, owner *HandlerState) *DescriptorState {
	return &DescriptorState{fd: fd, owner: owner}
}

func (d *DescriptorState) FD() int {
	return d.fd
}

func (d *DescriptorState) Interest() Interest {
	return d.interest
}

func (d *DescriptorState) NotifyOnReadable() bool {
	return d.interest.Has(Readable)
}

func (d *DescriptorState) NotifyOnWritable() bool {
	return d.interest.Has(Writable)
}

func (d *DescriptorState) NotifyOnException() bool {
	return d.interest.Has(ExceptionPending)
}

// HandlerState returns the owning handler state.
func (d *DescriptorState) HandlerState() *HandlerState {
	return d.owner
}

func (d *DescriptorState) set(k Kind, on bool) {
	d.interest = d.interest.With(k, on)
}

// quiet reports whether all three flags are clear.
func (d *DescriptorState) quiet() bool {
	return d.interest == InterestNone
}
