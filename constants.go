package x402

// Version constants.
const (
	// Version is the engine's release version.
	Version = "1.0.0"

	// ProtocolVersion is the x402 wire protocol version this engine speaks.
	ProtocolVersion = 2
)

// Exported aliases for the unexported core types, following the
// functional-options constructor pattern (NewClient/NewResourceServer/
// NewFacilitator return these).
type (
	// Client is the exported type returned by NewClient.
	Client = client

	// ResourceServer is the exported type returned by NewResourceServer.
	ResourceServer = resourceServer

	// Facilitator is the exported type returned by NewFacilitator.
	Facilitator = facilitatorCore
)
