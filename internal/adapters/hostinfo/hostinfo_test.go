package hostinfo

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisSpark/internal/app/sparkplug"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func mac(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	hw, err := net.ParseMAC(s)
	require.NoError(t, err)
	return hw
}

func TestDetectReadsHost(t *testing.T) {
	proc, sys := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(proc, "stat"), "cpu  1 2 3 4\nintr 0\nbtime 1714550400\nprocesses 42\n")
	writeFile(t, filepath.Join(sys, "class/dmi/id/sys_vendor"), "Advantech\n")

	ifaces := func() ([]net.Interface, error) {
		return []net.Interface{
			{Index: 3, Name: "wlan0", Flags: net.FlagUp, HardwareAddr: mac(t, "02:00:00:00:00:03")},
			{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
			{Index: 4, Name: "eth1", Flags: 0, HardwareAddr: mac(t, "02:00:00:00:00:01")},
			{Index: 2, Name: "eth0", Flags: net.FlagUp, HardwareAddr: mac(t, "02:00:00:00:00:02")},
		}, nil
	}

	cfg := sparkplug.PropertiesConfig{FirmwareVersion: "2.4.1", Location: &sparkplug.Location{Lat: 1, Long: 2}}
	p := detectFrom(cfg, proc, sys, ifaces)

	assert.Equal(t, "Advantech", p.HardwareMake)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, p.OS)
	assert.Equal(t, time.Unix(1714550400, 0), p.BootTime)
	assert.Equal(t, "02:00:00:00:00:02", p.MACAddress)
	assert.Equal(t, "2.4.1", p.FirmwareVersion)
	assert.Same(t, cfg.Location, p.Location)
}

func TestDetectFallbacks(t *testing.T) {
	empty := t.TempDir()
	cfg := sparkplug.PropertiesConfig{HardwareMake: "Siemens"}
	p := detectFrom(cfg, empty, empty, func() ([]net.Interface, error) { return nil, errors.New("netlink denied") })

	assert.Equal(t, "Siemens", p.HardwareMake, "configured value wins")
	assert.Equal(t, processStart, p.BootTime, "process start stands in for boot time")
	assert.Empty(t, p.MACAddress)

	host, err := os.Hostname()
	require.NoError(t, err)
	p = detectFrom(sparkplug.PropertiesConfig{}, empty, empty, func() ([]net.Interface, error) { return nil, nil })
	assert.Equal(t, host, p.HardwareMake)
}

func TestReadBootTimeRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	writeFile(t, path, "btime soon\n")
	assert.True(t, readBootTime(path).IsZero())
}
