package storage

import "testing"

type sample struct {
	Name  string
	Count int
}

func TestMemoryKVPutGet(t *testing.T) {
	kv := NewMemoryKV()
	if err := kv.Put("a/1", sample{Name: "one", Count: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out sample
	ok, err := kv.Get("a/1", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected key to exist")
	}
	if out.Name != "one" || out.Count != 1 {
		t.Fatalf("unexpected value: %+v", out)
	}
}

func TestMemoryKVMissingKey(t *testing.T) {
	kv := NewMemoryKV()
	ok, err := kv.Get("missing", &sample{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key to report ok=false")
	}
}

func TestMemoryKVKeysPrefix(t *testing.T) {
	kv := NewMemoryKV()
	_ = kv.Put("lct/a", sample{Name: "a"})
	_ = kv.Put("lct/b", sample{Name: "b"})
	_ = kv.Put("witness/a", sample{Name: "c"})
	keys, err := kv.Keys("lct/")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys with lct/ prefix, got %d", len(keys))
	}
}

func TestMemoryKVDelete(t *testing.T) {
	kv := NewMemoryKV()
	_ = kv.Put("x", sample{Name: "x"})
	if err := kv.Delete("x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, _ := kv.Get("x", &sample{})
	if ok {
		t.Fatalf("expected key to be gone after delete")
	}
}

func TestMemoryKVNextSequenceIsPerScopeAndMonotonic(t *testing.T) {
	kv := NewMemoryKV()
	for want := int64(1); want <= 3; want++ {
		got, err := kv.NextSequence("proj-a")
		if err != nil {
			t.Fatalf("next sequence: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	got, err := kv.NextSequence("proj-b")
	if err != nil {
		t.Fatalf("next sequence: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected a fresh scope to start at 1, got %d", got)
	}
}

func TestParseBackend(t *testing.T) {
	if b, err := ParseBackend(""); err != nil || b != BackendNative {
		t.Fatalf("expected default native backend, got %v err=%v", b, err)
	}
	if b, err := ParseBackend("fallback"); err != nil || b != BackendFallback {
		t.Fatalf("expected fallback backend, got %v err=%v", b, err)
	}
	if _, err := ParseBackend("bogus"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
