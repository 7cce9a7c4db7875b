package taskd

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slok/taskd/pkg/lib"
	"github.com/slok/taskd/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		return fmt.Errorf("taskd binary path is required (TASKD_INTEGRATION_BINARY)")
	}

	// go test changes the CWD to the test package directory.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("TASKD_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("taskd binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "TASKD_INTEGRATION"
		envBinary     = "TASKD_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{Binary: os.Getenv(envBinary)}
	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// Service is a running taskd service.
type Service struct {
	Address string
	TmpDir  string
}

// StartService runs `taskd serve` on a free port until the test ends.
func StartService(t *testing.T, config Config, maxWorkers int) Service {
	t.Helper()

	svc := Service{
		Address: freeAddress(t),
		TmpDir:  t.TempDir(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd, stderr, err := testutils.StartTaskd(ctx, nil, config.Binary, []string{
		"serve",
		"--listen-address", svc.Address,
		"--tmp-dir", svc.TmpDir,
		"--max-workers", fmt.Sprint(maxWorkers),
	}, true)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		_ = cmd.Wait()
		if t.Failed() {
			t.Logf("taskd serve stderr:\n%s", stderr.String())
		}
	})

	client, err := lib.New(ctx, lib.Config{Address: svc.Address})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := client.Health(ctx)
		return err == nil
	}, 10*time.Second, 100*time.Millisecond, "taskd service did not start")

	return svc
}

// RunTaskdCmd runs a taskd client command against the service.
func RunTaskdCmd(ctx context.Context, config Config, svc Service, args ...string) (stdout, stderr []byte, err error) {
	args = append(args, "--address", svc.Address)
	return testutils.RunTaskdArgs(ctx, nil, config.Binary, args, true)
}

func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	return l.Addr().String()
}
