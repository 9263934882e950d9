package queue

import "testing"

func TestResultChannelNaming(t *testing.T) {
	if got := resultChannel("abc-123"); got != "turbo:job:abc-123" {
		t.Fatalf("unexpected channel name: %s", got)
	}
}

func TestResultKeyNaming(t *testing.T) {
	if got := resultKey("abc-123"); got != "turbo:result:abc-123" {
		t.Fatalf("unexpected key name: %s", got)
	}
}
