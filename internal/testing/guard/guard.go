// Package guard flips the runtime into test mode when imported, so test
// binaries that build the app never dial Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("TENANTGUARD_TEST_MODE") == "" {
			_ = os.Setenv("TENANTGUARD_TEST_MODE", "1")
		}
	})
}
