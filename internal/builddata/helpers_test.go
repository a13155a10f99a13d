package builddata

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %s: %v", raw, err)
	}
	return u
}

func defaultConfig(t *testing.T) Configuration {
	return Configuration{
		ReleaseChannel: "default",
		UpdateURL:      mustURL(t, "https://exp.host/@test/test"),
		RequestHeaders: map[string]string{"expo-channel-name": "test"},
	}
}

func testLogger() (*log.Logger, *memory.Handler) {
	h := memory.New()
	return &log.Logger{Handler: h, Level: log.DebugLevel}, h
}

var errBroken = errors.New("disk I/O error")

// brokenKV fails every operation.
type brokenKV struct{}

func (brokenKV) Get(context.Context, string, string) (string, bool, error) {
	return "", false, errBroken
}
func (brokenKV) Set(context.Context, string, string, string) error { return errBroken }
func (brokenKV) Delete(context.Context, string, string) error { return errBroken }
func (brokenKV) List(context.Context, string) (map[string]string, error) {
	return nil, errBroken
}

// countingInvalidator records calls and optionally fails.
type countingInvalidator struct {
	mu     sync.Mutex
	calls  []string
	result int
	err    error
}

func (c *countingInvalidator) Invalidate(_ context.Context, scopeKey string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, scopeKey)
	return c.result, c.err
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
