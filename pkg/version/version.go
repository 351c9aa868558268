package version

// Set at build time, for example:
//
//	go build -ldflags "-X thermoboard-agent/pkg/version.Version=v1.2.3 -X thermoboard-agent/pkg/version.Commit=$(git rev-parse --short HEAD)" ./cmd/thermoboardd
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
