// Package device implements local device identity generation, hardware
// tier/capability detection, and IP address discovery for the device
// registry (C4).
//
// Grounded on original_source/core/brain/components/device.py
// (generate_device_id, detect_hardware_tier, detect_capabilities,
// get_hostname, get_ip_address), reworked from Python's
// uuid.getnode()/psutil/torch probing into Go's net/runtime equivalents
// plus shirou/gopsutil/v3 (the psutil port already in the example pack's
// dependency graph via kart-io-sentinel-x) for the one probe Go's stdlib
// has no portable equivalent for: total system memory.
package device

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/commubrain/core/internal/model"
)

// Hostname returns the local hostname, or "unknown" if it cannot be
// determined.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// firstMAC returns the first non-empty hardware address reported by any
// network interface, colon-hex formatted, or "" if none is found.
func firstMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

func randomHex8() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// time-derived fallback: crypto/rand failing is effectively never
		// observed in practice, but a device id must never be empty.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(buf)
}

// GenerateDeviceID returns hostname_mac48 (colon-separated hex) or, if no
// MAC address is available, hostname_<random8hex>.
func GenerateDeviceID() string {
	host := Hostname()
	mac := firstMAC()
	if mac == "" {
		return fmt.Sprintf("%s_%s", host, randomHex8())
	}
	return fmt.Sprintf("%s_%s", host, mac)
}

// HardwareProbe reports the resources used to classify a device's tier.
// A nil or zero MemoryBytes signals probing was unavailable.
type HardwareProbe struct {
	Cores       int
	MemoryBytes uint64
}

const gib = 1 << 30

// DetectHardwareTier classifies hardware into one of the four tiers per
// §4.3's thresholds. probe.MemoryBytes is normally populated by
// LocalHardwareProbe via gopsutil; a zero value is treated as "probing
// unavailable" and falls back to laptop, matching the Python ImportError
// fallback.
func DetectHardwareTier(probe HardwareProbe) model.HardwareTier {
	if probe.MemoryBytes == 0 || probe.Cores == 0 {
		return model.TierLaptop
	}
	memGiB := float64(probe.MemoryBytes) / gib
	switch {
	case memGiB >= 32 && probe.Cores >= 8:
		return model.TierServer
	case memGiB >= 16 && probe.Cores >= 4:
		return model.TierWorkstation
	case memGiB >= 8 && probe.Cores >= 2:
		return model.TierLaptop
	default:
		return model.TierRaspberryPi
	}
}

// DetectCapabilities returns the open-vocabulary capability tags for the
// given probe: a memory tier tag, a core-count tag, gpu/cuda tags when
// present (see DetectGPU), and always "network".
func DetectCapabilities(probe HardwareProbe, gpu bool, cuda bool) []string {
	var caps []string
	if probe.MemoryBytes == 0 {
		caps = append(caps, "unknown_memory")
	} else {
		memGiB := float64(probe.MemoryBytes) / gib
		switch {
		case memGiB >= 16:
			caps = append(caps, "high_memory")
		case memGiB >= 8:
			caps = append(caps, "medium_memory")
		default:
			caps = append(caps, "low_memory")
		}
	}
	if probe.Cores == 0 {
		caps = append(caps, "unknown_cpu")
	} else {
		switch {
		case probe.Cores >= 8:
			caps = append(caps, "multi_core")
		case probe.Cores >= 4:
			caps = append(caps, "quad_core")
		default:
			caps = append(caps, "low_core")
		}
	}
	if gpu {
		caps = append(caps, "gpu")
	}
	if cuda {
		caps = append(caps, "cuda")
	}
	caps = append(caps, "network")
	return caps
}

// LocalHardwareProbe reads CPU count from the Go runtime and total system
// memory via gopsutil's mem.VirtualMemory (backed by /proc/meminfo on
// Linux). A failed memory read leaves MemoryBytes at zero, which
// DetectHardwareTier/DetectCapabilities treat as "probing unavailable" and
// fall back to laptop/unknown_memory, matching the Python ImportError
// fallback path.
func LocalHardwareProbe() HardwareProbe {
	probe := HardwareProbe{Cores: runtime.NumCPU()}
	if vm, err := mem.VirtualMemory(); err == nil {
		probe.MemoryBytes = vm.Total
	}
	return probe
}

// nvidiaSMIPath is the binary DetectGPU looks for on PATH to decide
// whether CUDA-capable hardware is present.
const nvidiaSMIPath = "nvidia-smi"

// DetectGPU reports whether an nvidia-smi binary is reachable on PATH, used
// as a stand-in for both gpu and cuda capability tags: a machine with
// nvidia-smi installed has an NVIDIA GPU and (per every supported driver
// version) CUDA support.
func DetectGPU() bool {
	_, err := exec.LookPath(nvidiaSMIPath)
	return err == nil
}

// GetIPAddress is a best-effort local outbound IP address lookup via the
// UDP-connect trick (no packets are actually sent; this only consults
// routing to determine the local address that would be used). Returns ""
// on failure, matching the null-on-failure contract in §4.3.
func GetIPAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

// CreateDeviceContext assembles a model.Device from the local probe
// results, matching the Python create_device_context factory.
func CreateDeviceContext(deviceID string, tier model.HardwareTier, caps []string, version string) *model.Device {
	return &model.Device{
		DeviceID:     deviceID,
		HardwareTier: tier,
		Capabilities: caps,
		Hostname:     Hostname(),
		IPAddress:    GetIPAddress(),
		Status:       model.DeviceOnline,
		Version:      version,
		LastSeen:     time.Now().UTC(),
	}
}
