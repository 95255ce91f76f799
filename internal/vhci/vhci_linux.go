/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Linux VHCI bridge (spec section 4.6): feeds a remote device into the
 * kernel's vhci-hcd driver over a local AF_UNIX socketpair, translating
 * kernel CMD_SUBMIT/CMD_UNLINK traffic into DeviceProxy.Submit calls and
 * writing back RET_SUBMIT/RET_UNLINK.
 */

//go:build linux

package vhci

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/kimasplund/go-p2p-usb/internal/client"
	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

const platformVhciGlob = "/sys/devices/platform/vhci_hcd*"

// controller describes one discovered vhci_hcd platform device by its
// sysfs path.
type controller struct {
	sysPath string
}

// DiscoverControllers scans /sys/devices/platform for vhci_hcd[.N]
// instances, per spec section 4.6's platform discovery step.
func DiscoverControllers() ([]*controller, error) {
	matches, err := filepath.Glob(platformVhciGlob)
	if err != nil {
		return nil, err
	}
	out := make([]*controller, 0, len(matches))
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.IsDir() {
			out = append(out, &controller{sysPath: m})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("vhci: no vhci_hcd controller found under /sys/devices/platform")
	}
	return out, nil
}

// allocatePort picks a free port 0-7 on c by reading its status file;
// ports are never reused while still listed as occupied.
func (c *controller) allocatePort() (int, error) {
	data, err := os.ReadFile(filepath.Join(c.sysPath, "status"))
	if err != nil {
		return -1, fmt.Errorf("vhci: read status: %w", err)
	}

	used := make(map[int]bool)
	lines := strings.Split(string(data), "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		port, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		if fields[3] != "000" { // status "000" means unused
			used[port] = true
		}
	}

	for port := 0; port < 8; port++ {
		if !used[port] {
			return port, nil
		}
	}
	return -1, fmt.Errorf("vhci: no free port on %s", c.sysPath)
}

// Bridge attaches one remote device to the local USB stack via
// vhci-hcd and pumps URB traffic between the kernel and a
// client.DeviceProxy until Close is called.
type Bridge struct {
	ctrl   *controller
	port   int
	proxy  *client.DeviceProxy
	sock   *os.File
	cancel context.CancelFunc
}

// Attach claims a free port on the first discovered controller, hands
// the kernel end of a freshly created socketpair to vhci-hcd's attach
// file, and starts the URB pump goroutine.
func Attach(ctx context.Context, proxy *client.DeviceProxy, speed wire.Speed, devid uint32) (*Bridge, error) {
	ctrls, err := DiscoverControllers()
	if err != nil {
		return nil, err
	}
	ctrl := ctrls[0]

	port, err := ctrl.allocatePort()
	if err != nil {
		return nil, err
	}

	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("vhci: socketpair: %w", err)
	}
	kernelFD, localFD := fds[0], fds[1]

	attachLine := fmt.Sprintf("%d %d %d %d\n", port, vhciSpeedCode(speed), devid, kernelFD)
	if err := os.WriteFile(filepath.Join(ctrl.sysPath, "attach"), []byte(attachLine), 0200); err != nil {
		syscall.Close(kernelFD)
		syscall.Close(localFD)
		return nil, fmt.Errorf("vhci: write attach file: %w", err)
	}
	syscall.Close(kernelFD) // the kernel now owns its end

	sock := os.NewFile(uintptr(localFD), "vhci-socket")

	bctx, cancel := context.WithCancel(ctx)
	b := &Bridge{ctrl: ctrl, port: port, proxy: proxy, sock: sock, cancel: cancel}
	go b.pump(bctx)
	return b, nil
}

// pump reads CMD_SUBMIT/CMD_UNLINK from the kernel socket, issues the
// corresponding transfer against the device proxy, and writes back the
// RET_SUBMIT/RET_UNLINK reply.
func (b *Bridge) pump(ctx context.Context) {
	r := bufio.NewReaderSize(b.sock, 64*1024)
	hdr := make([]byte, HeaderSize)

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := readFull(r, hdr); err != nil {
			return
		}

		switch CommandOf(hdr) {
		case CmdSubmitCode:
			b.handleSubmit(ctx, r, hdr)
		case CmdUnlinkCode:
			b.handleUnlink(hdr)
		default:
			return
		}
	}
}

func (b *Bridge) handleSubmit(ctx context.Context, r *bufio.Reader, hdr []byte) {
	direction := decodeUint32(hdr, 0x0c)
	xferLen := decodeUint32(hdr, 0x18)

	var outData []byte
	if direction == DirOut && xferLen > 0 {
		outData = make([]byte, xferLen)
		if _, err := readFull(r, outData); err != nil {
			return
		}
	}
	cmd := ParseCmdSubmit(hdr, outData)

	req := wire.TransferRequest{
		Endpoint:  uint8(cmd.Endpoint),
		TimeoutMs: 5000,
		Data:      cmd.Data,
	}
	req.Kind = classifyTransfer(cmd)
	if req.Kind == wire.TransferControl {
		req.BmRequestType = cmd.Setup[0]
		req.BRequest = cmd.Setup[1]
		req.WValue = uint16(cmd.Setup[2]) | uint16(cmd.Setup[3])<<8
		req.WIndex = uint16(cmd.Setup[4]) | uint16(cmd.Setup[5])<<8
	} else if direction == DirIn {
		req.Endpoint |= 0x80
	}

	result, err := b.proxy.Submit(ctx, req)

	ret := RetSubmit{Seqnum: cmd.Seqnum, Devid: cmd.Devid, Direction: direction, Endpoint: cmd.Endpoint}
	if err != nil || !result.Ok {
		ret.Status = -5 // -EIO
	} else {
		ret.ActualLength = uint32(len(result.Data))
		ret.Data = result.Data
	}
	b.sock.Write(EncodeRetSubmit(ret))
}

func (b *Bridge) handleUnlink(hdr []byte) {
	cmd := ParseCmdUnlink(hdr)
	// The spec's server-side transfer model has no native cancellation
	// primitive (section 4.4's Non-goals), so CMD_UNLINK is acknowledged
	// immediately without attempting to cancel an in-flight transfer.
	ret := RetUnlink{Seqnum: cmd.Seqnum, Status: -104} // -ECONNRESET
	b.sock.Write(EncodeRetUnlink(ret))
}

// Close detaches the bridge and stops its pump goroutine.
func (b *Bridge) Close() error {
	b.cancel()
	detachLine := fmt.Sprintf("%d\n", b.port)
	_ = os.WriteFile(filepath.Join(b.ctrl.sysPath, "detach"), []byte(detachLine), 0200)
	return b.sock.Close()
}

func classifyTransfer(cmd CmdSubmit) wire.TransferKind {
	// Endpoint 0 is always the default control pipe.
	if cmd.Endpoint == 0 {
		return wire.TransferControl
	}
	return wire.TransferBulk
}

func vhciSpeedCode(s wire.Speed) int {
	switch s {
	case wire.SpeedLow:
		return 1
	case wire.SpeedFull:
		return 2
	case wire.SpeedHigh:
		return 3
	case wire.SpeedSuper:
		return 4
	case wire.SpeedSuperPlus:
		return 5
	default:
		return 2
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
