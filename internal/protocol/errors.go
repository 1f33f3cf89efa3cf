package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/mcp-client/internal/mcp"
)

var (
	// ErrProtocolVersion matches *VersionError.
	ErrProtocolVersion = errors.New("unsupported protocol version")

	// ErrNotInitialized is returned when the lifecycle is used after a
	// failed or repeated initialize.
	ErrNotInitialized = errors.New("protocol not initialized")

	// ErrCapabilityNotSupported matches *CapabilityError.
	ErrCapabilityNotSupported = errors.New("capability not supported by server")
)

// VersionError reports a server protocol version outside
// mcp.SupportedProtocolVersions.
type VersionError struct {
	Got string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("server negotiated protocol version %q, supported: %s",
		e.Got, strings.Join(mcp.SupportedProtocolVersions, ", "))
}

func (e *VersionError) Is(target error) bool { return target == ErrProtocolVersion }

// CapabilityError reports an operation gated on a capability the server did
// not advertise.
type CapabilityError struct {
	Capability Capability
	Method     string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s requires the %s capability, which the server does not advertise", e.Method, e.Capability)
}

func (e *CapabilityError) Is(target error) bool { return target == ErrCapabilityNotSupported }
