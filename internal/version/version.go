package version

// Version is the current version of the warpmeet binary.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/BioHazard786/warpmeet/internal/version.Version=v0.1.0'"
var Version = "dev"

// UserAgent identifies this client to the relay and to redis.
func UserAgent() string {
	return "warpmeet/" + Version
}
