// Package freeipa is the RPC boundary to a FreeIPA server. It exposes the
// generic "invoke a named command with keyword options" surface that the
// reconciliation engine and commands are written against, plus a concrete
// JSON-RPC implementation speaking to /ipa/session/json.
package freeipa

import (
	"context"
	"errors"
	"fmt"
)

// Client invokes a named FreeIPA command with keyword options and returns
// the structured response. Implementations must be safe for sequential
// reuse across a whole reconciliation run; they are never called
// concurrently.
type Client interface {
	Invoke(ctx context.Context, command string, options map[string]any) (*Response, error)
}

// APIError is an error reported by the FreeIPA server itself, as opposed
// to a transport failure.
type APIError struct {
	Code    int
	Name    string
	Message string
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// FreeIPA reports an unrecognized command name with error code 905
// (CommandError). The engine treats this differently from other query
// failures: it means the manager is talking to an incompatible server.
const codeUnknownCommand = 905

// IsUnknownCommand reports whether err is the server rejecting the
// command name itself.
func IsUnknownCommand(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeUnknownCommand
}
