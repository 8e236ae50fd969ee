package command

import (
	"github.com/pkg/errors"
)

const maxIDLen = 64

// ContainerID identifies one container. Construct it with NewContainerID
// so that malformed identifiers are rejected before they reach the
// runtime.
type ContainerID struct {
	ID string
}

// NewContainerID validates id and wraps it. The rules match what the
// orchestrator is allowed to put on the wire: non-empty, at most 64
// characters, leading alphanumeric, charset [A-Za-z0-9_.-].
func NewContainerID(id string) (ContainerID, error) {
	if err := verifyID(id); err != nil {
		return ContainerID{}, err
	}
	return ContainerID{ID: id}, nil
}

// ContainerProcess identifies either a container's init process (empty
// ExecID) or a specific exec'd process within it.
type ContainerProcess struct {
	Container ContainerID
	ExecID    string
}

// NewContainerProcess validates the (id, execID) pair. An empty execID
// denotes the init process and is always valid; a non-empty one is held
// to the same rules as container IDs.
func NewContainerProcess(id, execID string) (ContainerProcess, error) {
	cid, err := NewContainerID(id)
	if err != nil {
		return ContainerProcess{}, err
	}
	if execID != "" {
		if err := verifyID(execID); err != nil {
			return ContainerProcess{}, errors.Wrap(err, "exec id")
		}
	}
	return ContainerProcess{Container: cid, ExecID: execID}, nil
}

func verifyID(id string) error {
	if id == "" {
		return &InvalidIdentityError{Reason: "empty id"}
	}
	if len(id) > maxIDLen {
		return &InvalidIdentityError{ID: id, Reason: "id too long"}
	}
	if !isAlphanumeric(id[0]) {
		return &InvalidIdentityError{ID: id, Reason: "id must start with an alphanumeric character"}
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !isAlphanumeric(c) && c != '_' && c != '.' && c != '-' {
			return &InvalidIdentityError{ID: id, Reason: "id contains invalid characters"}
		}
	}
	return nil
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
