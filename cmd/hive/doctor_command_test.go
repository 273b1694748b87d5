package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"hive/internal/testsupport"
)

func TestDoctorReportsHealthyStore(t *testing.T) {
	env := setupCLITestEnv(t,
		testsupport.WithStubbedBinaries(0, "hive-launch", "hive-exec"),
		testsupport.WithLauncherCommand("hive-launch", "{identity}"),
	)
	env.cfg.Worker.ExecutorCommand = []string{"hive-exec"}
	writeTestConfig(t, env.configPath, env.cfg)

	out := mustRunCLI(t, env, "doctor")
	requireContains(t, out, "== Checks ==")
	requireContains(t, out, "Store root")
	requireContains(t, out, "[OK] sqlite at")
	requireContains(t, out, "hive-exec")
}

func TestDoctorFailsOnMissingLauncher(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithLauncherCommand("clearly-not-present-launcher"))

	out, _, err := runCLI(t, []string{"doctor"}, env.configPath)
	if err == nil {
		t.Fatal("expected doctor to report a problem")
	}
	requireContains(t, out, "clearly-not-present-launcher")
}

func TestDoctorSendsTestNotification(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries(0, "hive-launch"), testsupport.WithLauncherCommand("hive-launch"))
	env.cfg.Notifications.NtfyTopic = srv.URL
	writeTestConfig(t, env.configPath, env.cfg)

	out := mustRunCLI(t, env, "doctor", "--notify")
	requireContains(t, out, "test notification sent")
	if hits.Load() != 1 {
		t.Fatalf("expected one ntfy request, got %d", hits.Load())
	}
}
