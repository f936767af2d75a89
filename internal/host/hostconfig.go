package host

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"pythia-bench/internal/logging"

	"github.com/sirupsen/logrus"
)

// HostConfig contains host system information stamped into every run.
// It is initialized once at startup.
type HostConfig struct {
	// CPU Information
	CPUVendor    string `json:"cpu_vendor"`
	CPUModel     string `json:"cpu_model"`
	TotalThreads int    `json:"total_threads"`
	NumSockets   int    `json:"num_sockets"`

	// RDMA devices found under /sys/class/infiniband
	RDMADevices []string `json:"rdma_devices"`

	// System Information
	Hostname      string `json:"hostname"`
	OSInfo        string `json:"os"`
	KernelVersion string `json:"kernel"`
}

var (
	globalHostConfig *HostConfig
	hostConfigOnce   sync.Once
	hostConfigErr    error

	procRoot = "/proc"
	sysRoot  = "/sys"
)

// GetHostConfig returns the global host configuration
// It initializes the configuration on first call
func GetHostConfig() (*HostConfig, error) {
	hostConfigOnce.Do(func() {
		globalHostConfig, hostConfigErr = initializeHostConfig()
	})
	return globalHostConfig, hostConfigErr
}

func initializeHostConfig() (*HostConfig, error) {
	logger := logging.GetLogger()

	config := &HostConfig{}

	if err := config.initSystemInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize system info: %w", err)
	}

	config.initCPUInfo()
	config.initRDMADevices()

	logger.WithFields(logrus.Fields{
		"hostname":     config.Hostname,
		"cpu_model":    config.CPUModel,
		"threads":      config.TotalThreads,
		"rdma_devices": strings.Join(config.RDMADevices, ","),
	}).Info("Host configuration initialized")

	return config, nil
}

func (hc *HostConfig) initSystemInfo() error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	hc.Hostname = hostname

	hc.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	if data, err := os.ReadFile(filepath.Join(procRoot, "version")); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hc.KernelVersion = version[2]
		}
	}

	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}

	return nil
}

func (hc *HostConfig) initCPUInfo() {
	hc.TotalThreads = runtime.NumCPU()
	hc.CPUVendor = "unknown"
	hc.CPUModel = "unknown"
	hc.NumSockets = 1

	file, err := os.Open(filepath.Join(procRoot, "cpuinfo"))
	if err != nil {
		return
	}
	defer file.Close()

	sockets := make(map[string]bool)
	vendor, model := "", ""
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "vendor_id":
			if vendor == "" {
				vendor = value
			}
		case "model name":
			if model == "" {
				model = value
			}
		case "physical id":
			sockets[value] = true
		}
	}

	if vendor != "" {
		hc.CPUVendor = vendor
	}
	if model != "" {
		hc.CPUModel = model
	}
	if len(sockets) > 0 {
		hc.NumSockets = len(sockets)
	}
}

func (hc *HostConfig) initRDMADevices() {
	entries, err := os.ReadDir(filepath.Join(sysRoot, "class", "infiniband"))
	if err != nil {
		return
	}
	for _, e := range entries {
		hc.RDMADevices = append(hc.RDMADevices, e.Name())
	}
	sort.Strings(hc.RDMADevices)
}

// Tags flattens the host description for metric tags.
func (hc *HostConfig) Tags() map[string]string {
	return map[string]string{
		"hostname": hc.Hostname,
		"cpu":      hc.CPUModel,
		"kernel":   hc.KernelVersion,
	}
}
