package logx

import (
	"testing"
)

func TestIsDebugEnabledDomainFilter(t *testing.T) {
	SetDebug(true, []string{"gather", "fsm"})
	defer SetDebug(false, nil)

	if !IsDebugEnabled("gather") {
		t.Error("gather domain should be enabled")
	}
	if !IsDebugEnabled("fsm") {
		t.Error("fsm domain should be enabled")
	}
	if IsDebugEnabled("verify") {
		t.Error("verify domain should not be enabled")
	}
}

func TestIsDebugEnabledAllDomains(t *testing.T) {
	SetDebug(true, nil)
	defer SetDebug(false, nil)

	if !IsDebugEnabled("anything") {
		t.Error("all domains should be enabled when no filter is set")
	}
}

func TestIsDebugEnabledDisabled(t *testing.T) {
	SetDebug(false, nil)

	if IsDebugEnabled("gather") {
		t.Error("no domain should be enabled when debug is off")
	}
}

func TestWithComponent(t *testing.T) {
	logger := NewLogger("executive")
	child := logger.WithComponent("gather")

	if child.Component() != "gather" {
		t.Errorf("expected component gather, got %s", child.Component())
	}
	if logger.Component() != "executive" {
		t.Error("parent logger component should be unchanged")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}
