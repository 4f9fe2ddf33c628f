//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	pconfig "github.com/cimonstech/ventechfront-sub000/internal/platform/config"
	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
)

const (
	emulatorImage      = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	emulatorReadyAfter = 30 * time.Second
)

// newEmulatorProvider binds a provider to FIRESTORE_EMULATOR_HOST when set, otherwise to a
// throwaway emulator container scoped to the test.
func newEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("firestore emulator tests are skipped in short mode")
	}

	host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if host == "" {
		host = launchEmulator(t)
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func launchEmulator(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if out, err := dockerCmd(5*time.Second, "info"); err != nil {
		t.Skipf("docker daemon unavailable: %v (%s)", err, out)
	}

	port := reservePort(t)
	out, err := dockerCmd(2*time.Minute, "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	)
	if err != nil {
		t.Fatalf("start firestore emulator: %v (%s)", err, out)
	}
	container := strings.TrimSpace(out)
	if container == "" {
		t.Fatal("docker run returned no container id")
	}
	t.Cleanup(func() { _, _ = dockerCmd(10*time.Second, "stop", container) })

	host := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(emulatorReadyAfter)
	for {
		conn, err := net.DialTimeout("tcp", host, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return host
		}
		if time.Now().After(deadline) {
			t.Fatalf("firestore emulator on %s not ready after %s", host, emulatorReadyAfter)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func dockerCmd(timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	return string(out), err
}

func reservePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
