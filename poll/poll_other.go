//go:build !linux && !darwin && !freebsd
// +build !linux,!darwin,!freebsd

package poll

func newBackend(int) (backend, error) {
	return nil, ErrUnsupported
}

func registrationGone(error) bool {
	return false
}
