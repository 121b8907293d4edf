// Package notify tells the service manager what state the process is in.
//
// On linux this is the systemd notification socket named by NOTIFY_SOCKET.
// Everywhere else, or when the variable is unset, every call is a no-op.
package notify

// Readiness reports that startup finished and connections are accepted.
func Readiness() error {
	return send("READY=1")
}

// Stopping reports that a graceful shutdown has begun.
func Stopping() error {
	return send("STOPPING=1")
}

// Status sets the free-form status line shown by systemctl.
func Status(s string) error {
	return send("STATUS=" + s)
}
