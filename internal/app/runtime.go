package app

import (
	"os"
	"strconv"
	"strings"
)

// TestModeEnv makes the binaries exit before touching Postgres or Redis.
const TestModeEnv = "REPAIRDESK_TEST_MODE"

// InTestMode reports whether TestModeEnv holds a true value such as "1" or "true".
func InTestMode() bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(TestModeEnv)))
	return err == nil && on
}
