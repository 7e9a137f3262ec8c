package transport

// DefaultDir is where shared regions live unless configured otherwise.
const DefaultDir = "/dev/shm"

// Names identifies the shared regions of one session.
type Names struct {
	Environment string
	Action      string
	Control     string // empty when unmanaged
}

// Managed reports whether a control region is named.
func (n Names) Managed() bool { return n.Control != "" }
