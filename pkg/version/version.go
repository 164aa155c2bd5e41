// Package version implements the advisory compatibility gate between this
// client and a ByteGrader server. A negative verdict is surfaced to the
// user but never blocks an operation.
package version

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// Build identity. Overridable at build time:
//
//	go build -ldflags "-X github.com/bytegrader/bgctl/pkg/version.ClientVersion=..."
var (
	ClientVersion = "1.0.0"
	BuildTime     = "unknown"
	GitCommit     = "unknown"
)

// Policy is the supported server version range and the version this client
// was actually tested against.
type Policy struct {
	Min    string
	Max    string
	Tested string
}

// DefaultPolicy is the range this release of the client supports.
func DefaultPolicy() Policy {
	return Policy{
		Min:    "0.9.0",
		Max:    "1.2.0",
		Tested: "1.1.0",
	}
}

// Verdict is the outcome of a compatibility check.
type Verdict struct {
	Compatible    bool   `json:"compatible"`
	Message       string `json:"message"`
	ClientVersion string `json:"client_version"`
	ServerVersion string `json:"server_version"`
}

// Check compares a server's advertised version against the policy range
// using semantic-version ordering. Out-of-range versions are incompatible;
// in-range versions that differ from the tested version get an advisory
// message.
func Check(serverVersion string, policy Policy) Verdict {
	verdict := Verdict{
		ClientVersion: ClientVersion,
		ServerVersion: serverVersion,
	}

	server, err := goversion.NewVersion(serverVersion)
	if err != nil {
		verdict.Message = fmt.Sprintf("Could not parse server version %q: %v", serverVersion, err)
		return verdict
	}
	min, err := goversion.NewVersion(policy.Min)
	if err != nil {
		verdict.Message = fmt.Sprintf("Invalid minimum supported version %q: %v", policy.Min, err)
		return verdict
	}
	max, err := goversion.NewVersion(policy.Max)
	if err != nil {
		verdict.Message = fmt.Sprintf("Invalid maximum supported version %q: %v", policy.Max, err)
		return verdict
	}

	if server.LessThan(min) {
		verdict.Message = fmt.Sprintf("ByteGrader server version %s is too old. Minimum required: %s", serverVersion, policy.Min)
		return verdict
	}
	if server.GreaterThan(max) {
		verdict.Message = fmt.Sprintf("ByteGrader server version %s is too new. Maximum supported: %s", serverVersion, policy.Max)
		return verdict
	}

	verdict.Compatible = true
	if tested, err := goversion.NewVersion(policy.Tested); err != nil || !server.Equal(tested) {
		verdict.Message = fmt.Sprintf("ByteGrader server version %s is compatible but not fully tested. Tested with: %s", serverVersion, policy.Tested)
		return verdict
	}

	verdict.Message = fmt.Sprintf("ByteGrader server version %s is fully compatible", serverVersion)
	return verdict
}
