package registry

import (
	"errors"
	"testing"

	"clustergate/internal/nodeclient"
)

func TestGetOrDialDialsOnce(t *testing.T) {
	s := NewSet()
	calls := 0
	dial := func(addr Address) (*nodeclient.Client, error) {
		calls++
		return nil, errors.New("dial refused in test")
	}
	if _, err := s.GetOrDial("a:1", dial); err == nil {
		t.Fatalf("expected dial error to propagate")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one dial attempt, got %d", calls)
	}
}

func TestAddressesAndLen(t *testing.T) {
	s := NewSet()
	if s.Len() != 0 {
		t.Fatalf("new set should be empty")
	}
	if _, _, ok := s.Random(); ok {
		t.Fatalf("Random on an empty set should report ok=false")
	}
	if addrs := s.Addresses(); len(addrs) != 0 {
		t.Fatalf("Addresses on an empty set should be empty, got %v", addrs)
	}
}
