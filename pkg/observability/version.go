package observability

// Version is the reported service version, overridable at build time with
// -ldflags "-X github.com/launchdesk/gatekeeper/pkg/observability.Version=..."
var Version = "dev"
