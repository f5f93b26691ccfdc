package buildconfig

// Set at build time through -ldflags; defaults cover plain `go run`.
var (
	version = "dev"
	commit  = "unknown"
)

// Version reports the release version stamped into the binary.
func Version() string {
	return version
}

// Commit reports the git revision stamped into the binary.
func Commit() string {
	return commit
}

// VersionInfo bundles the stamped build identifiers for the health endpoint.
func VersionInfo() map[string]string {
	return map[string]string{
		"version": version,
		"commit":  commit,
	}
}
