package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("TRANSPORTE_TEST_MODE") == "" {
			_ = os.Setenv("TRANSPORTE_TEST_MODE", "1")
		}
	})
}
