package saya

// ModuleState is where a module is in its lifecycle.
type ModuleState int

const (
	StateUnloaded ModuleState = iota
	StateLoading
	StateLoaded
	StateUnloading
)

func (s ModuleState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	default:
		return "unloaded"
	}
}
