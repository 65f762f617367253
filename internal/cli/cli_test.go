package cli

import (
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	if !strings.HasPrefix(Version(), "loom version ") {
		t.Errorf("unexpected version string %q", Version())
	}
}

func TestCronNext_InvalidExpression(t *testing.T) {
	if err := cronNextCmd.RunE(cronNextCmd, []string{"0 25 * * *"}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestCronDescribe_ImpossibleDate(t *testing.T) {
	if err := cronDescribeCmd.RunE(cronDescribeCmd, []string{"0 0 31 2 *"}); err == nil {
		t.Error("expected error for an expression that never fires")
	}
}
