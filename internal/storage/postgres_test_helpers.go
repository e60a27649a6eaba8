//go:build postgres

package storage

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// testPostgresDSN returns RECIPES_TEST_POSTGRES_DSN, or starts a throwaway
// Postgres container for the calling test when the variable is unset and
// docker is available.
func testPostgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := strings.TrimSpace(os.Getenv("RECIPES_TEST_POSTGRES_DSN")); dsn != "" {
		return dsn
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("RECIPES_TEST_POSTGRES_DSN not set and docker unavailable")
	}
	return startEphemeralPostgres(t)
}

func startEphemeralPostgres(t *testing.T) string {
	t.Helper()

	user := envOr("RECIPES_TEST_POSTGRES_USER", "recipes")
	password := envOr("RECIPES_TEST_POSTGRES_PASSWORD", "recipes")
	db := envOr("RECIPES_TEST_POSTGRES_DB", "recipes_test")
	port := envOr("RECIPES_TEST_POSTGRES_PORT", "54329")
	image := envOr("RECIPES_TEST_POSTGRES_IMAGE", "postgres:16-alpine")

	containerName := fmt.Sprintf("recipes-postgres-test-%d", time.Now().UnixNano())
	args := []string{
		"run",
		"--rm",
		"--detach",
		"--name", containerName,
		"--publish", fmt.Sprintf("%s:5432", port),
		"--env", fmt.Sprintf("POSTGRES_USER=%s", user),
		"--env", fmt.Sprintf("POSTGRES_PASSWORD=%s", password),
		"--env", fmt.Sprintf("POSTGRES_DB=%s", db),
		"--health-cmd", fmt.Sprintf("pg_isready -U %s -d %s", user, db),
		"--health-interval", "2s",
		"--health-timeout", "5s",
		"--health-retries", "15",
		image,
	}
	if output, err := exec.Command("docker", args...).CombinedOutput(); err != nil {
		t.Skipf("start postgres container: %v: %s", err, string(output))
	}

	cleanup := func() {
		_ = exec.Command("docker", "rm", "-f", containerName).Run()
	}

	deadline := time.Now().Add(60 * time.Second)
	for {
		output, err := exec.Command("docker", "inspect", "--format", "{{.State.Health.Status}}", containerName).CombinedOutput()
		status := strings.TrimSpace(string(output))
		if err == nil && status == "healthy" {
			break
		}
		if status == "unhealthy" || time.Now().After(deadline) {
			logs, _ := exec.Command("docker", "logs", containerName).CombinedOutput()
			cleanup()
			t.Fatalf("postgres container did not become healthy (%s): %s", status, string(logs))
		}
		time.Sleep(time.Second)
	}
	t.Cleanup(cleanup)

	return fmt.Sprintf("postgres://%s:%s@127.0.0.1:%s/%s?sslmode=disable", user, password, port, db)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
