/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Server entry point: exposes every local USB device matching the
 * configured filters to approved peers over the P2P transport.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kimasplund/go-p2p-usb/internal/audit"
	"github.com/kimasplund/go-p2p-usb/internal/config"
	"github.com/kimasplund/go-p2p-usb/internal/ctrlsock"
	"github.com/kimasplund/go-p2p-usb/internal/daemonutil"
	"github.com/kimasplund/go-p2p-usb/internal/lock"
	"github.com/kimasplund/go-p2p-usb/internal/logutil"
	"github.com/kimasplund/go-p2p-usb/internal/paths"
	"github.com/kimasplund/go-p2p-usb/internal/ratelimit"
	"github.com/kimasplund/go-p2p-usb/internal/server"
	"github.com/kimasplund/go-p2p-usb/internal/statusevents"
	"github.com/kimasplund/go-p2p-usb/internal/transport"
	"github.com/kimasplund/go-p2p-usb/internal/usbdev"
)

const usageText = `Usage:
    %s [options]

Options are:
    -conf PATH  - load configuration from PATH instead of the default
    -debug      - log to console instead of the log file, ignore -bg
    -bg         - run in background
`

type runParams struct {
	ConfPath   string
	Debug      bool
	Background bool
}

func usage() {
	fmt.Printf(usageText, os.Args[0])
	os.Exit(0)
}

func usageError(format string, args ...interface{}) {
	if format != "" {
		fmt.Printf(format+"\n", args...)
	}
	fmt.Printf("Try %s -h for more information\n", os.Args[0])
	os.Exit(1)
}

func parseArgv() (params runParams) {
	params.ConfPath = filepath.Join(paths.ConfDir, config.FileName)

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "-help", "--help":
			usage()
		case "-debug":
			params.Debug = true
		case "-bg":
			params.Background = true
		case "-conf":
			if i+1 >= len(args) {
				usageError("-conf requires a path argument")
			}
			i++
			params.ConfPath = args[i]
		default:
			usageError("Invalid argument %s", args[i])
		}
	}

	if params.Debug {
		params.Background = false
	}
	return
}

func main() {
	params := parseArgv()

	cfg, err := config.Load(params.ConfPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "p2p-usb-server: %s\n", err)
		os.Exit(1)
	}

	log := logutil.New()
	if params.Debug {
		log.ToConsole()
	} else {
		log.ToFile(filepath.Join(paths.StateDir, "p2p-usb-server.log"))
	}

	if params.Background {
		if err := daemonutil.Daemonize(os.Args[0], "-bg"); err != nil {
			fmt.Fprintf(os.Stderr, "p2p-usb-server: %s\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	if !params.Debug {
		daemonutil.CloseStdInOutErr()
	}

	lf, err := lock.Acquire(paths.ServerLockFile)
	if err != nil {
		log.Error("server: %s", err)
		os.Exit(1)
	}
	defer lf.Release()

	if cfg.SecretKeyPath == "" {
		cfg.SecretKeyPath = paths.SecretKeyFile
	}
	identity, err := transport.LoadOrCreateIdentity(cfg.SecretKeyPath)
	if err != nil {
		log.Error("server: %s", err)
		os.Exit(1)
	}
	log.Info("server: peer id %s", identity.PeerID())

	allowlist, err := transport.NewAllowlist(cfg.RequireApproval, cfg.ApprovedClients)
	if err != nil {
		log.Error("server: invalid approved_clients entry: %s", err)
		os.Exit(1)
	}

	auditLog := audit.NewLog(256, func(ev audit.Event) {
		log.Info("audit: %s peer=%s %s", ev.Kind, ev.PeerID, ev.Detail)
	})

	ep, err := transport.NewEndpoint(transport.Config{
		Identity:  identity,
		Allowlist: allowlist,
		Audit:     auditLog,
		Log:       log,
	})
	if err != nil {
		log.Error("server: %s", err)
		os.Exit(1)
	}
	if err := ep.Listen(cfg.ListenAddr); err != nil {
		log.Error("server: %s", err)
		os.Exit(1)
	}
	log.Info("server: listening on %s", cfg.ListenAddr)

	mgr := usbdev.NewManager(log, cfg.UsbFilters)
	go func() {
		if err := mgr.Run(); err != nil {
			log.Error("server: usb manager stopped: %s", err)
		}
	}()

	limiter := ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitPerSec)
	status := statusevents.NewTable()

	ctrl := ctrlsock.New(paths.ControlSocket, mgr, status, log)
	if err := ctrl.Start(); err != nil {
		log.Error("server: control socket: %s", err)
	}

	srv := server.New(ep, mgr, limiter, status, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("server: shutting down")
		cancel()
	}()

	daemonutil.Notify("READY=1")
	go daemonutil.RunWatchdog(ctx.Done())

	if err := srv.Run(ctx); err != nil {
		log.Error("server: %s", err)
	}

	ctrl.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = mgr.Shutdown(shutdownCtx)
	shutdownCancel()
	ep.Close()
	log.Close()
}
