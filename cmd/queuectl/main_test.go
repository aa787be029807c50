package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/auth"
)

type cli struct {
	t  *testing.T
	db string
}

func newCLI(t *testing.T) cli {
	t.Helper()
	chdir(t, t.TempDir())
	for _, key := range []string{"STAFF_PASSWORD", "STAFF_PASSWORD_HASH", "SERVICES", "SERVICES_FILE", "DEFAULT_SERVICE", "DB_DSN", "STORE_BACKEND", "TICKET_FLOOR"} {
		t.Setenv(key, "")
	}
	return cli{t: t, db: filepath.Join(t.TempDir(), "queue.db")}
}

func (c cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	err := run(append([]string{"--db", c.db}, args...), &out)
	return out.String(), err
}

func (c cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("queuectl %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

var idPattern = regexp.MustCompile(`id: (\S+)`)

func TestJoinCallCompleteFlow(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("join", "--name", "Alice")
	if !strings.Contains(out, "Ticket #101 for Alice (General Inquiry)") {
		t.Fatalf("unexpected join output: %s", out)
	}
	match := idPattern.FindStringSubmatch(out)
	if match == nil {
		t.Fatalf("join output has no ticket id: %s", out)
	}
	ticketID := match[1]

	out = c.mustRun("status")
	if !strings.Contains(out, "Position: Next") || !strings.Contains(out, "Estimated wait: 0m") {
		t.Fatalf("unexpected status output: %s", out)
	}

	if _, err := c.run("call-next"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected staff gate to reject, got %v", err)
	}

	out = c.mustRun("--password", "admin123", "call-next")
	if !strings.Contains(out, "Now serving #101 Alice") {
		t.Fatalf("unexpected call-next output: %s", out)
	}

	out = c.mustRun("status")
	if !strings.Contains(out, "Your Turn!") {
		t.Fatalf("expected your-turn message, got: %s", out)
	}

	out = c.mustRun("--password", "admin123", "complete", ticketID)
	if !strings.Contains(out, "Ticket #101 is completed") {
		t.Fatalf("unexpected complete output: %s", out)
	}

	out = c.mustRun("--password", "admin123", "events", ticketID)
	if !strings.Contains(out, "ticket_completed") || !strings.Contains(out, "chain verified") {
		t.Fatalf("unexpected events output: %s", out)
	}

	c.mustRun("ack")
	if _, err := c.run("status"); err == nil {
		t.Fatal("expected status without an active ticket to fail")
	}
}

func TestLoginPersistsInSession(t *testing.T) {
	c := newCLI(t)

	if _, err := c.run("--password", "nope", "login"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	c.mustRun("--password", "admin123", "login")
	c.mustRun("join", "--name", "Bob")

	out := c.mustRun("board")
	if !strings.Contains(out, "Waiting: 1") || !strings.Contains(out, "Bob") {
		t.Fatalf("unexpected board output: %s", out)
	}

	c.mustRun("logout")
	if _, err := c.run("board"); err == nil {
		t.Fatal("expected board to require staff after logout")
	}
}

func TestCallNextOnEmptyQueue(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("--password", "admin123", "call-next")
	if err == nil || !strings.Contains(err.Error(), "no customers waiting") {
		t.Fatalf("expected empty queue error, got %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	c := newCLI(t)
	if _, err := c.run("dance"); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if _, err := c.run("--password", "admin123", "complete"); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	out := c.mustRun()
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected help output, got %s", out)
	}
}

func TestHashPasswordFeedsStaffGate(t *testing.T) {
	c := newCLI(t)

	hashed := strings.TrimSpace(c.mustRun("hash-password", "s3cret"))
	if !strings.HasPrefix(hashed, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", hashed)
	}
	if _, err := os.Stat(c.db); !os.IsNotExist(err) {
		t.Fatalf("hash-password should not create the queue file, stat err=%v", err)
	}
	fromFlag := strings.TrimSpace(c.mustRun("--password", "s3cret", "hash-password"))
	if fromFlag == hashed || !strings.HasPrefix(fromFlag, "$2") {
		t.Fatalf("expected a fresh salted hash, got %q", fromFlag)
	}

	t.Setenv("STAFF_PASSWORD_HASH", hashed)
	if _, err := c.run("--password", "admin123", "login"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected hash to replace the default password, got %v", err)
	}
	c.mustRun("--password", "s3cret", "login")

	if _, err := c.run("hash-password"); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error without a password, got %v", err)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
