/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Control socket: a tiny HTTP server running on top of a unix-domain
 * socket, adapted from the teacher's ctrlsock.go. Where the teacher
 * serves a plain-text status dump, this serves a JSON snapshot (spec
 * section 6) since the status/diagnostics interface is meant to be
 * machine-readable for an out-of-scope TUI front end.
 */

package ctrlsock

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/kimasplund/go-p2p-usb/internal/logutil"
	"github.com/kimasplund/go-p2p-usb/internal/statusevents"
	"github.com/kimasplund/go-p2p-usb/internal/usbdev"
)

// Server runs an HTTP status endpoint over a unix-domain socket.
type Server struct {
	Path    string
	Manager *usbdev.Manager
	Status  *statusevents.Table
	Log     *logutil.Logger

	httpSrv  http.Server
	listener *net.UnixListener
}

// New builds a Server bound to the given socket path. Call Start to
// begin serving.
func New(path string, mgr *usbdev.Manager, status *statusevents.Table, lg *logutil.Logger) *Server {
	if lg == nil {
		lg = logutil.New()
	}
	s := &Server{Path: path, Manager: mgr, Status: status, Log: lg}
	s.httpSrv = http.Server{
		Handler:  http.HandlerFunc(s.handle),
		ErrorLog: log.New(lg.LineWriter(logutil.LogError, '!'), "", 0),
	}
	return s
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.Log.Debug("ctrlsock: %s %s", r.Method, r.URL)

	defer func() {
		if v := recover(); v != nil {
			s.Log.Error("ctrlsock: panic: %v", v)
		}
	}()

	if r.Method != http.MethodGet {
		http.Error(w, r.Method+": method not supported", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/status" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	devices, _ := s.Manager.ListDevices(r.Context())
	snapshot := statusevents.Snapshot{Devices: devices}
	if s.Status != nil {
		snapshot.Peers = s.Status.Peers()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(snapshot)
}

// Start listens on Path and begins serving in the background.
func (s *Server) Start() error {
	s.Log.Debug("ctrlsock: listening at %q", s.Path)

	os.Remove(s.Path)

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.Path, Net: "unix"})
	if err != nil {
		return err
	}
	os.Chmod(s.Path, 0700) // only the local user; unlike ipp-usb's shared-printer socket, peer auth already lives in the allowlist

	s.listener = ln
	go s.httpSrv.Serve(ln)
	return nil
}

// Stop shuts down the control socket server.
func (s *Server) Stop() {
	s.Log.Debug("ctrlsock: shutdown")
	s.httpSrv.Close()
}

// Dial connects to a running instance's control socket, used by a CLI
// subcommand to query status.
func Dial(path string) (net.Conn, error) {
	return net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
}
