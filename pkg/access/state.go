package access

// SystemState tracks whether the first account has been created
type SystemState int32

const (
	StateUnknown SystemState = iota
	StateBootstrapping
	StateOperational
)

func (s SystemState) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateOperational:
		return "operational"
	default:
		return "unknown"
	}
}
