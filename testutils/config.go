package testutils

import (
	"os"
	"testing"
)

type Config struct {
	ManagerURL  string
	NodeAPIPort string
}

var globalTestConfig *Config

// GetTestConfig returns the shared test configuration.  By default the tests
// run entirely against the in-process mocks; setting CHTEST_MANAGER_URL
// points them at an externally running control plane instead.
func GetTestConfig(t *testing.T) *Config {
	if globalTestConfig == nil {
		testConfig := &Config{}

		envManagerURL := os.Getenv("CHTEST_MANAGER_URL")
		if envManagerURL != "" {
			testConfig.ManagerURL = envManagerURL
		}

		envNodeAPIPort := os.Getenv("CHTEST_NODEAPI_PORT")
		if envNodeAPIPort != "" {
			testConfig.NodeAPIPort = envNodeAPIPort
		}

		t.Logf("initialized test configuration")
		t.Logf("  manager url: %s", testConfig.ManagerURL)

		globalTestConfig = testConfig
	}

	return globalTestConfig
}
