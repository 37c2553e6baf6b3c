package pool

import "fmt"

// ConfigurationError reports an unresolvable or conflicting queue name. It is
// returned synchronously from Dispatch before any worker is claimed or pool
// state is mutated.
type ConfigurationError struct {
	PoolQueue string
	CallQueue string
}

func (e *ConfigurationError) Error() string {
	if e.PoolQueue == "" && e.CallQueue == "" {
		return "dispatch: no queue name configured on the pool or supplied with the call"
	}
	return fmt.Sprintf("dispatch: conflicting queue names: pool=%q call=%q", e.PoolQueue, e.CallQueue)
}

// SpawnError wraps a spawner failure while warming the idle set. Fatal to the
// New or Dispatch call that triggered the warming.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker (%s): %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
