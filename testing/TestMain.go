package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("TENANTGUARD_TEST_MODE", "1")
		if os.Getenv("AUDIT_MODE") == "" {
			_ = os.Setenv("AUDIT_MODE", "direct")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
