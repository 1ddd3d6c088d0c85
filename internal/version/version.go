// ABOUTME: Version information for resonate-engine
// ABOUTME: Reported in broadcast handshakes and the CLI banner
package version

const (
	// Version is the current engine version
	Version = "0.3.0"

	// Product is the product name
	Product = "Resonate Engine"

	// Manufacturer identifies the maker
	Manufacturer = "Resonate Protocol"
)
