package bytecode

import "testing"

func TestInternStringReturnsIdenticalPointerForEqualContent(t *testing.T) {
	a := NewAllocator()
	s1 := a.InternString("hello")
	s2 := a.InternString("hello")
	if s1 != s2 {
		t.Errorf("expected identical pointers, got %p and %p", s1, s2)
	}
	if !ObjVal(s1).Equal(ObjVal(s2)) {
		t.Error("expected interned strings to compare equal")
	}
}

func TestInternStringDistinguishesDifferentContent(t *testing.T) {
	a := NewAllocator()
	s1 := a.InternString("hello")
	s2 := a.InternString("world")
	if s1 == s2 {
		t.Error("expected different content to produce different pointers")
	}
}

func TestNoteAllocationTriggersAtThreshold(t *testing.T) {
	a := NewAllocator()
	if a.NoteAllocation(initialNextGC - 1) {
		t.Error("did not expect a collection to be due yet")
	}
	if !a.NoteAllocation(2) {
		t.Error("expected a collection to be due once bytesAllocated crosses nextGC")
	}
}

func TestStressGCAlwaysDue(t *testing.T) {
	a := NewAllocator()
	a.StressGC = true
	if !a.NoteAllocation(1) {
		t.Error("expected StressGC to force a collection on every allocation")
	}
}

func TestGrowThresholdDoublesPastInitial(t *testing.T) {
	a := NewAllocator()
	a.NoteAllocation(initialNextGC * 3)
	a.GrowThreshold()
	want := a.BytesAllocated() * 2
	if a.NextGC() != want {
		t.Errorf("got next GC threshold %d, want %d", a.NextGC(), want)
	}
}

func TestSweepUnlinksUnmarkedObjects(t *testing.T) {
	a := NewAllocator()
	s1 := a.InternString("kept")
	s2 := a.InternString("dropped")

	SetMarked(s1)
	freed := a.Sweep()
	if freed != 1 {
		t.Fatalf("expected exactly one object freed, got %d", freed)
	}
	if a.Count() != 1 {
		t.Errorf("expected one surviving object, got %d", a.Count())
	}

	// s2's content must be internable again since it was dropped from
	// the intern table along with the object itself.
	s3 := a.InternString("dropped")
	if s3 == s2 {
		t.Error("expected a fresh allocation after the old one was swept")
	}
	_ = s1
}

func TestNewInstanceHasEmptyFieldsAndClassBackref(t *testing.T) {
	a := NewAllocator()
	class := a.NewClass(a.InternString("Point"))
	inst := a.NewInstance(class)
	if inst.Class != class {
		t.Error("expected the instance to reference its class")
	}
	if len(inst.Fields) != 0 {
		t.Errorf("expected a fresh instance to have no fields, got %d", len(inst.Fields))
	}
}
