// File: api/errors_test.go
// Author: momentics <momentics@gmail.com>

package api_test

import (
	"strings"
	"testing"

	"github.com/jamesmaino/libcamera-willfork/api"
)

func TestErrorFormatting(t *testing.T) {
	err := api.NewError(api.ErrCodeWrongThread, "timer armed off-thread").
		WithContext("thread", "worker-1")

	msg := err.Error()
	if !strings.Contains(msg, "timer armed off-thread") {
		t.Errorf("message lost: %q", msg)
	}
	if err.Code != api.ErrCodeWrongThread {
		t.Errorf("unexpected code %v", err.Code)
	}
	if err.Context["thread"] != "worker-1" {
		t.Errorf("context lost: %v", err.Context)
	}
}
