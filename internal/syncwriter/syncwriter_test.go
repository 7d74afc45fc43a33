package syncwriter

import "testing"

func TestTryLockFailsWhileHeld(t *testing.T) {
	var w SyncWriter
	w.Lock()
	if w.TryLock() {
		t.Fatal("expected TryLock to fail while the fence is held")
	}
	w.Unlock()
	if !w.TryLock() {
		t.Fatal("expected TryLock to succeed once the fence is free")
	}
	w.Unlock()
}
