// Package guard is imported for its side effect: test binaries that pull it
// in run with REPAIRDESK_TEST_MODE=1 unless the variable is already set.
package guard

import "os"

// EnvVar mirrors app.TestModeEnv.
const EnvVar = "REPAIRDESK_TEST_MODE"

func init() {
	if _, set := os.LookupEnv(EnvVar); !set {
		_ = os.Setenv(EnvVar, "1")
	}
}
