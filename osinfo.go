package kdtransport

import (
	"bufio"
	"os"
	"strings"

	"go.uber.org/zap"
)

// osReleasePath is a var so tests can point it at a fixture file.
var osReleasePath = "/etc/os-release"

// resolveOSName reads PRETTY_NAME out of /etc/os-release for inclusion
// in the debuggee's PrepareDebuggee call. On failure it returns a
// zeroed string plus a logged warning rather than handing the driver
// an uninitialized buffer.
func resolveOSName(log *zap.SugaredLogger) string {
	f, err := os.Open(osReleasePath)
	if err != nil {
		log.Warnw("resolve OS name: open os-release", "path", osReleasePath, "err", err)
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		name, value, ok := strings.Cut(line, "=")
		if !ok || name != "PRETTY_NAME" {
			continue
		}
		return strings.Trim(value, `"`)
	}
	if err := scanner.Err(); err != nil {
		log.Warnw("resolve OS name: read os-release", "path", osReleasePath, "err", err)
		return ""
	}
	log.Warnw("resolve OS name: no PRETTY_NAME in os-release", "path", osReleasePath)
	return ""
}
