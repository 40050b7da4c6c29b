package updater

// LinkStatus reports the state of the network link the device updates over.
type LinkStatus interface {
	// IsConnected reports whether the link is currently up. Polled on every Handle call.
	IsConnected() bool

	// AssignedName returns the name the network assigned to this device.
	// Only consulted once, when no explicit host identity was configured.
	AssignedName() string
}

// Advertiser publishes the device name and its services on the local network.
type Advertiser interface {
	Start(name string) error
	Stop() error
	RegisterService(protocol, transport string, port int) error
}

// Refresher is implemented by advertisers that must be refreshed manually
// while the link is up.
type Refresher interface {
	Refresh() error
}

// WebServer is a cooperative HTTP server. ServeOnePending must never block.
type WebServer interface {
	Listen(port int) error
	ServeOnePending()
	Close() error
}

// UploadHandler attaches the firmware upload page to a WebServer.
type UploadHandler interface {
	Attach(srv WebServer, basePath, username, password string) error
}

// UpdateListener is the background update endpoint that accepts images pushed
// from development tools.
type UpdateListener interface {
	SetPassword(password string)
	SetPort(port uint16)
	SetHostIdentity(name string)
	Start() error
	ServeOnePending()
}
