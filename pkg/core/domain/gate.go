package domain

// GateState is the outcome of evaluating a link before a redirect.
type GateState int

const (
	GateOpen GateState = iota
	GateLocked
	GateExpired
	GateDisabled
	GateNotFound
)

func (s GateState) String() string {
	switch s {
	case GateOpen:
		return "open"
	case GateLocked:
		return "locked"
	case GateExpired:
		return "expired"
	case GateDisabled:
		return "disabled"
	case GateNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Decision is what the access gate concluded for one request.
type Decision struct {
	State GateState
	Link  *Link
	// Err carries the challenge error indicator after a failed verify.
	Err error
}

// Proceed reports whether the redirect may be issued.
func (d Decision) Proceed() bool {
	return d.State == GateOpen
}

// PassCheck reports whether the client holds a pass that is still good for
// link. A nil PassCheck never matches.
type PassCheck func(link *Link) bool
