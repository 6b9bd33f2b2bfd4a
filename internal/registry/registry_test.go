package registry

import "testing"

type fakeDescriptor struct {
	id  uint64
	pid int
}

func (f *fakeDescriptor) ID() uint64 { return f.id }
func (f *fakeDescriptor) Pid() int   { return f.pid }

func TestInsertLookupBothKeys(t *testing.T) {
	r := New()
	d := &fakeDescriptor{id: 1, pid: 4242}
	r.Insert(d)

	if got, ok := r.ByID(1); !ok || got != d {
		t.Fatalf("expected lookup by id to find d, got %v, %v", got, ok)
	}
	if got, ok := r.ByPid(4242); !ok || got != d {
		t.Fatalf("expected lookup by pid to find d, got %v, %v", got, ok)
	}
}

func TestRemoveByIDIsIdempotent(t *testing.T) {
	r := New()
	d := &fakeDescriptor{id: 1, pid: 4242}
	r.Insert(d)

	r.RemoveByID(1)
	r.RemoveByID(1)

	if _, ok := r.ByID(1); ok {
		t.Fatal("expected id 1 to be gone")
	}
	if _, ok := r.ByPid(4242); ok {
		t.Fatal("expected pid 4242 to be gone")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestNextIDMonotonic(t *testing.T) {
	r := New()
	first := r.NextID()
	second := r.NextID()
	if second != first+1 {
		t.Fatalf("expected monotonic ids, got %d then %d", first, second)
	}
	if first == 0 {
		t.Fatal("expected ids to start above 0")
	}
}
