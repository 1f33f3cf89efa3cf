package agent

// clientName is sent as clientInfo.name during initialize.
const clientName = "mcp-client"

// Names of the MCP bridge transports.
const (
	ServerTransportStdio          = "stdio"
	ServerTransportStreamableHTTP = "streamable-http"
)

// bridgeEndpointPath is where the streamable-http bridge listens.
const bridgeEndpointPath = "/mcp"
