/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Well-known filesystem paths, adapted from the teacher's paths.go.
 */

package paths

const (
	// ConfDir is the directory configuration files are loaded from.
	ConfDir = "/etc/p2p-usb"

	// StateDir is the program state directory.
	StateDir = "/var/lib/p2p-usb"

	// LockDir holds the daemon lock files.
	LockDir = StateDir + "/lock"

	// ServerLockFile guards against running more than one server
	// instance against the same state directory.
	ServerLockFile = LockDir + "/server.lock"

	// ClientLockFile guards against running more than one client
	// instance against the same state directory.
	ClientLockFile = LockDir + "/client.lock"

	// SecretKeyFile is the default Ed25519 identity key path.
	SecretKeyFile = StateDir + "/identity.key"

	// ControlSocket is the unix-domain socket the status server
	// listens on.
	ControlSocket = StateDir + "/control.sock"
)
