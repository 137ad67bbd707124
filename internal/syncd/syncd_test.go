package syncd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/api"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge/loopback"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/lock"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/profile"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

// tempHome points the profile layout at a short temporary directory
// to stay under the Unix socket path limit.
func tempHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "jamisync-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(profile.HomeEnv, dir)
	return dir
}

// TestFxModuleWiring verifies the dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	tempHome(t)
	if err := fx.ValidateApp(Module(Params{Profile: "fxtest"})); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	tempHome(t)
	d := loopback.New()
	if _, err := d.AddAccount(map[string]string{bridge.KeyAlias: "me"}); err != nil {
		t.Fatal(err)
	}

	app := fxtest.New(t, fx.NopLogger, Module(Params{Profile: "test", Daemon: d}))
	app.RequireStart()

	socketPath := profile.SocketPath("test")
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	f := st.GetFields()
	if f["state"].GetStringValue() != "READY" {
		t.Errorf("state = %q, want READY", f["state"].GetStringValue())
	}
	if f["profile"].GetStringValue() != "test" {
		t.Errorf("profile = %q", f["profile"].GetStringValue())
	}
	if n := f["accounts"].GetNumberValue(); n != 1 {
		t.Errorf("accounts = %v, want 1", n)
	}

	app.RequireStop()
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	if _, err := os.Stat(profile.StorePath("test")); err != nil {
		t.Errorf("store not created: %v", err)
	}
}

func TestSecondInstanceRejected(t *testing.T) {
	tempHome(t)
	if err := profile.EnsureDir("busy"); err != nil {
		t.Fatal(err)
	}
	lk, err := lock.Acquire(profile.Dir("busy"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	app := fx.New(fx.NopLogger, Module(Params{Profile: "busy"}))
	err = app.Err()
	if err == nil || !strings.Contains(err.Error(), "profile locked") {
		t.Fatalf("app.Err() = %v, want lock held error", err)
	}
}

// Regression: a bare string param cannot be resolved by fx, so NewServer
// must take Params.
func TestNewServerUsesParams(t *testing.T) {
	dir := tempHome(t)
	socketPath := filepath.Join(dir, "d.sock")

	srv, err := NewServer(Params{Profile: "fxtest", SocketPath: socketPath}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	if _, err := os.Stat(socketPath); err != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, err)
	}
	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket not removed: %v", err)
	}
}
