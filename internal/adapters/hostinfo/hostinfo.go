// Package hostinfo reads the node properties announced in
// NBIRTH. Missing or unreadable sources leave the property empty; detection
// never fails.
package hostinfo

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wlynxg/anet"

	"github.com/ghalamif/AegisSpark/internal/app/sparkplug"
)

var processStart = time.Now()

// Detect fills cfg's blanks from the running host.
func Detect(cfg sparkplug.PropertiesConfig) sparkplug.NodeProperties {
	return detectFrom(cfg, "/proc", "/sys", anet.Interfaces)
}

func detectFrom(cfg sparkplug.PropertiesConfig, procRoot, sysRoot string, ifaces func() ([]net.Interface, error)) sparkplug.NodeProperties {
	p := sparkplug.NodeProperties{
		HardwareMake:    cfg.HardwareMake,
		OS:              runtime.GOOS + "/" + runtime.GOARCH,
		OSVersion:       kernelRelease(),
		BootTime:        readBootTime(filepath.Join(procRoot, "stat")),
		FirmwareVersion: cfg.FirmwareVersion,
		FirmwareDate:    cfg.FirmwareDate,
		Location:        cfg.Location,
	}
	if p.HardwareMake == "" {
		p.HardwareMake = readSysfsString(filepath.Join(sysRoot, "class/dmi/id/sys_vendor"))
	}
	if p.HardwareMake == "" {
		p.HardwareMake, _ = os.Hostname()
	}
	if p.BootTime.IsZero() {
		p.BootTime = processStart
	}
	if list, err := ifaces(); err == nil {
		p.MACAddress = primaryMAC(list)
	}
	return p
}

// readBootTime returns the btime line of /proc/stat.
func readBootTime(path string) time.Time {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		rest, ok := strings.CutPrefix(sc.Text(), "btime ")
		if !ok {
			continue
		}
		secs, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return time.Time{}
		}
		return time.Unix(secs, 0)
	}
	return time.Time{}
}

func readSysfsString(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// primaryMAC picks the hardware address of the lowest-index interface that
// is up and not a loopback.
func primaryMAC(list []net.Interface) string {
	list = slices.Clone(list)
	slices.SortFunc(list, func(a, b net.Interface) int { return a.Index - b.Index })
	for _, ifc := range list {
		if ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagUp == 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		return ifc.HardwareAddr.String()
	}
	return ""
}
