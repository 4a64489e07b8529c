package replication_test

import (
	"testing"

	"go.uber.org/goleak"
)

// Workers of a closed propagator and connections of a closed receiver must not outlive the tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
