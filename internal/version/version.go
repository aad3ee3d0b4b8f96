package version

// Version and Commit are set at build time via:
//
//	go build -ldflags "-X github.com/siemens/linux-entra-sso/internal/version.Version=1.5.0 -X ...version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "dev"
)

// String returns the version with the commit appended when known.
func String() string {
	if Commit == "" || Commit == "dev" {
		return Version
	}
	return Version + "+" + Commit
}
