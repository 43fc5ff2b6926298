package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/rulecache"
)

func TestAttrsSortedAndLevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})))

	l.Debug("hidden", rulecache.Fields{"a": 1})
	l.Warn("purge", rulecache.Fields{"pattern": "viewset:*", "deleted": 3})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug logged at info level: %s", out)
	}
	if !strings.Contains(out, "component=rulecache deleted=3 pattern=viewset:*") {
		t.Fatalf("out=%s", out)
	}
}
