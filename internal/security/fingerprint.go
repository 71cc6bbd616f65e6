package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
)

// MachineIdentity derives a stable identifier for the local machine from a
// set of system attributes, reduced through SHA-256. The raw attributes are
// never persisted or transmitted; only the derived hex digest leaves this
// package. Two calls on the same machine always yield the same value.
type MachineIdentity struct {
	once sync.Once
	id   string
}

// ID returns the machine identifier, computing it on first use.
func (m *MachineIdentity) ID() string {
	m.once.Do(func() {
		m.id = computeMachineID()
	})
	return m.id
}

func computeMachineID() string {
	hostname, err := os.Hostname()
	if err != nil {
		slog.Warn("machine identity falling back to empty hostname",
			slog.String("error", err.Error()),
		)
		hostname = ""
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))

	raw := fmt.Sprintf("%s-%s-%s-%s", runtime.GOOS, hostname, runtime.GOARCH, cpuIdentifier())
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// cpuIdentifier returns a processor description, OS-specific where a stable
// source exists and falling back to the runtime architecture otherwise.
func cpuIdentifier() string {
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return procID
		}
	case "linux":
		if model := linuxCPUModel(); model != "" {
			return model
		}
	}
	return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
}

func linuxCPUModel() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.TrimSpace(key) == "model name" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
