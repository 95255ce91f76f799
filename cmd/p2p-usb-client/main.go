/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Client entry point: connects to a server, attaches every remote
 * device matching the configured filters, and bridges each into the
 * local kernel's USB stack via vhci-hcd.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kimasplund/go-p2p-usb/internal/client"
	"github.com/kimasplund/go-p2p-usb/internal/config"
	"github.com/kimasplund/go-p2p-usb/internal/daemonutil"
	"github.com/kimasplund/go-p2p-usb/internal/health"
	"github.com/kimasplund/go-p2p-usb/internal/lock"
	"github.com/kimasplund/go-p2p-usb/internal/logutil"
	"github.com/kimasplund/go-p2p-usb/internal/paths"
	"github.com/kimasplund/go-p2p-usb/internal/transport"
	"github.com/kimasplund/go-p2p-usb/internal/vhci"
	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

const usageText = `Usage:
    %s server-address [options]

Options are:
    -conf PATH  - load configuration from PATH instead of the default
    -debug      - log to console instead of the log file, ignore -bg
    -bg         - run in background
`

// devicePollInterval is how often the client re-lists the server's
// devices to notice arrivals and departures.
const devicePollInterval = 2 * time.Second

type runParams struct {
	ServerAddr string
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
			if params.ServerAddr != "" || args[i][0] == '-' {
				usageError("Invalid argument %s", args[i])
			}
			params.ServerAddr = args[i]
		}
	}

	if params.ServerAddr == "" {
		usageError("Missing server address")
	}
	if params.Debug {
		params.Background = false
	}
	return
}

// bridgeSet tracks the live vhci bridges keyed by remote device id, so
// a device that disappears and reappears is re-attached cleanly.
type bridgeSet struct {
	mu      sync.Mutex
	bridges map[wire.DeviceID]*vhci.Bridge
}

func newBridgeSet() *bridgeSet {
	return &bridgeSet{bridges: make(map[wire.DeviceID]*vhci.Bridge)}
}

func (b *bridgeSet) has(id wire.DeviceID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bridges[id]
	return ok
}

func (b *bridgeSet) put(id wire.DeviceID, br *vhci.Bridge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bridges[id] = br
}

func (b *bridgeSet) drop(id wire.DeviceID) {
	b.mu.Lock()
	br, ok := b.bridges[id]
	delete(b.bridges, id)
	b.mu.Unlock()
	if ok {
		br.Close()
	}
}

func (b *bridgeSet) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, br := range b.bridges {
		br.Close()
		delete(b.bridges, id)
	}
}

func main() {
	params := parseArgv()

	cfg, err := config.Load(params.ConfPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "p2p-usb-client: %s\n", err)
		os.Exit(1)
	}

	log := logutil.New()
	if params.Debug {
		log.ToConsole()
	} else {
		log.ToFile(filepath.Join(paths.StateDir, "p2p-usb-client.log"))
	}

	if params.Background {
		if err := daemonutil.Daemonize(os.Args[0], "-bg"); err != nil {
			fmt.Fprintf(os.Stderr, "p2p-usb-client: %s\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	if !params.Debug {
		daemonutil.CloseStdInOutErr()
	}

	lf, err := lock.Acquire(paths.ClientLockFile)
	if err != nil {
		log.Error("client: %s", err)
		os.Exit(1)
	}
	defer lf.Release()

	if cfg.SecretKeyPath == "" {
		cfg.SecretKeyPath = paths.SecretKeyFile
	}
	identity, err := transport.LoadOrCreateIdentity(cfg.SecretKeyPath)
	if err != nil {
		log.Error("client: %s", err)
		os.Exit(1)
	}
	log.Info("client: peer id %s", identity.PeerID())

	allowlist, err := transport.NewAllowlist(cfg.RequireApproval, cfg.ApprovedServers)
	if err != nil {
		log.Error("client: invalid approved_servers entry: %s", err)
		os.Exit(1)
	}

	ep, err := transport.NewEndpoint(transport.Config{
		Identity:  identity,
		Allowlist: allowlist,
		Log:       log,
	})
	if err != nil {
		log.Error("client: %s", err)
		os.Exit(1)
	}

	c := client.New(ep, params.ServerAddr, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("client: shutting down")
		cancel()
	}()

	go c.Run(ctx)

	daemonutil.Notify("READY=1")
	go daemonutil.RunWatchdog(ctx.Done())

	bridges := newBridgeSet()
	defer bridges.closeAll()

	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() != health.StateConnected {
				continue
			}
			reconcileDevices(ctx, c, cfg, bridges, log)
		}
	}
}

// reconcileDevices lists the server's current devices, attaches and
// bridges every new one matching the configured filters, and tears
// down bridges for devices that are no longer listed.
func reconcileDevices(ctx context.Context, c *client.Client, cfg config.Configuration, bridges *bridgeSet, log *logutil.Logger) {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	devices, err := c.ListDevices(listCtx)
	cancel()
	if err != nil {
		log.Debug("client: list devices: %s", err)
		return
	}

	seen := make(map[wire.DeviceID]bool, len(devices))
	for _, dev := range devices {
		seen[dev.ID] = true
		if bridges.has(dev.ID) {
			continue
		}
		if !cfg.UsbFilters.Allows(dev.Vendor, dev.Product) {
			continue
		}
		attachDevice(ctx, c, dev, bridges, log)
	}

	bridges.mu.Lock()
	stale := make([]wire.DeviceID, 0)
	for id := range bridges.bridges {
		if !seen[id] {
			stale = append(stale, id)
		}
	}
	bridges.mu.Unlock()
	for _, id := range stale {
		log.Info("client: device %d gone, detaching bridge", id)
		bridges.drop(id)
	}
}

func attachDevice(ctx context.Context, c *client.Client, dev wire.DeviceInfo, bridges *bridgeSet, log *logutil.Logger) {
	proxy := client.NewDeviceProxy(c, dev.ID)

	attachCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	handle, err := proxy.Attach(attachCtx)
	cancel()
	if err != nil {
		log.Error("client: attach device %d: %s", dev.ID, err)
		return
	}

	br, err := vhci.Attach(ctx, proxy, dev.Speed, uint32(handle))
	if err != nil {
		log.Error("client: vhci bridge for device %d: %s", dev.ID, err)
		detachCtx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
		proxy.Detach(detachCtx)
		dcancel()
		return
	}

	log.Info("client: device %d (%04x:%04x) attached, handle=%d", dev.ID, dev.Vendor, dev.Product, handle)
	bridges.put(dev.ID, br)
}
