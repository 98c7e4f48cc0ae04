package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a, b := New("rcpt"), New("rcpt")
	if !strings.HasPrefix(a, "rcpt-") {
		t.Fatalf("expected prefix, got %s", a)
	}
	if a == b {
		t.Fatalf("expected unique ids")
	}
}
