//go:build !unix

package session

// ProcessResume is inert on platforms without job-control signals; the
// scheduler then renews on its interval only.
type ProcessResume struct{}

// Subscribe returns a channel that never delivers.
func (ProcessResume) Subscribe() (<-chan struct{}, func()) {
	return make(chan struct{}), func() {}
}
