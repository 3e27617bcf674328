package automation_test

import (
	"context"
	"testing"
	"time"

	"github.com/Iron-Ham/friendflow/internal/automation"
	"github.com/Iron-Ham/friendflow/internal/automation/automationtest"
	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/uilock"
)

func testOptions() automation.Options {
	return automation.Options{
		ProfileTimeout:      150 * time.Millisecond,
		RelationshipTimeout: 150 * time.Millisecond,
		ButtonTimeout:       100 * time.Millisecond,
		ConfirmTimeout:      150 * time.Millisecond,
		IdentifierTimeout:   150 * time.Millisecond,
		Poll:                10 * time.Millisecond,
	}
}

func newDriver(t *testing.T, surf *automationtest.Surface, mutate ...func(*automation.Options)) *automation.Driver {
	t.Helper()
	opts := testOptions()
	for _, fn := range mutate {
		fn(&opts)
	}
	d, err := automation.NewDriver(surf, opts, logging.NopLogger(), nil)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	return d
}

func session(t *testing.T) *uilock.Session {
	t.Helper()
	s, err := uilock.New().Acquire(context.Background(), t.Name())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	t.Cleanup(s.Release)
	return s
}

func ctrl(id string, role automation.Role, name string) automation.Control {
	return automation.Control{ID: id, Role: role, Name: name}
}

// scriptSearch makes the network result open a profile card populated by
// fill.
func scriptSearch(surf *automationtest.Surface, fill func(s *automationtest.Surface)) {
	surf.Show(ctrl("net", automation.RoleNetworkResult, "网络查找"), "main")
	surf.OnClick("net", func(s *automationtest.Surface) {
		s.Show(ctrl("card", automation.RoleProfileCard, "资料卡"), "")
		if fill != nil {
			fill(s)
		}
	})
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
