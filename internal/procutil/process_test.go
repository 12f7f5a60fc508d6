package procutil

import (
	"os"
	"testing"
)

func TestIsProcessAlive(t *testing.T) {
	if !IsProcessAlive(os.Getpid()) {
		t.Fatal("own process must be alive")
	}
	if IsProcessAlive(1<<30 - 1) {
		t.Fatal("a pid beyond any pid_max must not be alive")
	}
	if IsProcessAlive(0) || IsProcessAlive(-4) {
		t.Fatal("non-positive pids are never alive")
	}
}
