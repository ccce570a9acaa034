package orchestrator

import "fmt"

const (
	KindServiceExited  = "service_exited"
	KindUnknownProject = "unknown_project"
	KindRootImmutable  = "root_immutable"
	KindSpawnFailed    = "spawn_failed"
	KindShutdown       = "orchestrator_closed"
)

// RequestError carries the error kind of a failed backend request.
type RequestError struct {
	Kind    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *RequestError with the same kind.
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*RequestError)
	return ok && t.Kind == e.Kind
}

var (
	ErrServiceExited  = &RequestError{Kind: KindServiceExited}
	ErrUnknownProject = &RequestError{Kind: KindUnknownProject}
)
