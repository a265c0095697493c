package secure

import (
	"bufio"
	"bytes"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

// Risk is a host condition under which secret material may reach disk.
type Risk struct {
	Level   slog.Level
	Message string
}

// HostRisks inspects swap and /tmp on Linux. Locked buffers never reach
// swap, but archive plaintext lives on the ordinary heap. Other systems
// report nothing.
func HostRisks() []Risk {
	if runtime.GOOS != "linux" {
		return nil
	}

	return hostRisks(os.DirFS("/proc"))
}

func hostRisks(proc fs.FS) []Risk {
	var risks []Risk

	if swaps, err := fs.ReadFile(proc, "swaps"); err == nil && !swapEncrypted(swaps) {
		risks = append(risks, Risk{
			Level:   slog.LevelWarn,
			Message: "swap may not be encrypted: plaintext outside locked memory can be paged to disk",
		})
	}

	if mounts, err := fs.ReadFile(proc, "self/mounts"); err == nil && !memoryBacked(mounts, "/tmp") {
		risks = append(risks, Risk{
			Level:   slog.LevelDebug,
			Message: "/tmp is not memory-backed: temporary files there may persist on disk",
		})
	}

	return risks
}

// swapEncrypted reports whether every active swap area is a device-mapper
// (dm-crypt) or zram device. No swap at all counts as encrypted.
func swapEncrypted(swaps []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(swaps))

	// Header: Filename Type Size Used Priority
	sc.Scan()

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		name := fields[0]

		switch {
		case strings.HasPrefix(name, "/dev/mapper/"),
			strings.HasPrefix(name, "/dev/dm-"),
			strings.HasPrefix(name, "/dev/zram"),
			strings.Contains(name, "crypt"):
		default:
			return false
		}
	}

	return true
}

// memoryBacked reports whether mountpoint is a tmpfs or ramfs mount. The
// last mount on a point hides the earlier ones.
func memoryBacked(mounts []byte, mountpoint string) bool {
	sc := bufio.NewScanner(bytes.NewReader(mounts))
	backed := false

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 || fields[1] != mountpoint {
			continue
		}

		backed = fields[2] == "tmpfs" || fields[2] == "ramfs"
	}

	return backed
}
