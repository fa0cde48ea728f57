package bytecode

// Allocator is the single gateway every heap allocation in Ember passes
// through.
//
// It owns the intrusive all-objects list, the string intern table, and
// the byte-accounting counters that decide when the VM should run a GC
// cycle. Allocator itself never triggers collection -- Go's runtime
// already owns real memory management underneath these objects, so
// "collecting" here means walking AllObjects and dropping references to
// anything the VM's mark phase did not reach (unlink and let Go's GC
// reclaim it). The orchestration of when to collect, and the mark phase
// itself, lives in pkg/vm/gc.go, which needs the VM's root set;
// Allocator only tracks the threshold and exposes NoteAllocation so the
// VM knows when to act.
type Allocator struct {
	all       Obj // head of the intrusive all-objects list
	count     int // number of live heap objects
	interned  map[uint32][]*ObjString

	bytesAllocated int64
	nextGC         int64
	growFactor     int64
	StressGC       bool
}

const initialNextGC = 1 << 20 // 1 MiB

// NewAllocator creates an allocator with default 1 MiB initial
// threshold and 2x growth factor.
func NewAllocator() *Allocator {
	return &Allocator{
		interned:   make(map[uint32][]*ObjString),
		nextGC:     initialNextGC,
		growFactor: 2,
	}
}

func (a *Allocator) link(o Obj) {
	h := o.header()
	h.next = a.all
	a.all = o
	a.count++
}

// AllObjects returns the head of the intrusive all-objects list.
func (a *Allocator) AllObjects() Obj { return a.all }

// Count returns the number of live heap objects tracked right now.
func (a *Allocator) Count() int { return a.count }

// BytesAllocated returns the running byte count charged since the
// allocator was created; Sweep does not lower it.
func (a *Allocator) BytesAllocated() int64 { return a.bytesAllocated }

// NextGC returns the threshold that triggers the next collection.
func (a *Allocator) NextGC() int64 { return a.nextGC }

// NoteAllocation charges size bytes to the allocation counter and
// reports whether a GC cycle is now due -- either because the stress
// flag forces collection on every allocation, or because the running
// total crossed nextGC.
func (a *Allocator) NoteAllocation(size int64) bool {
	a.bytesAllocated += size
	if a.StressGC {
		return true
	}
	return a.bytesAllocated >= a.nextGC
}

// GrowThreshold recomputes nextGC after a completed collection:
// nextGC = bytesAllocated * growFactor.
func (a *Allocator) GrowThreshold() {
	a.nextGC = a.bytesAllocated * a.growFactor
	if a.nextGC < initialNextGC {
		a.nextGC = initialNextGC
	}
}

// Sweep walks the all-objects list, re-whitening every still-marked
// object and unlinking/dropping everything unmarked. It returns the
// number of objects freed. String interning is kept consistent by
// removing any unmarked string from the intern table in the same pass
// (intern table keys are weak).
func (a *Allocator) Sweep() int {
	var freed int
	var prev Obj
	cur := a.all
	for cur != nil {
		h := cur.header()
		if h.marked {
			h.marked = false
			prev = cur
			cur = h.next
			continue
		}
		next := h.next
		if prev == nil {
			a.all = next
		} else {
			prev.header().next = next
		}
		if s, ok := cur.(*ObjString); ok {
			a.removeIntern(s)
		}
		a.count--
		freed++
		cur = next
	}
	return freed
}

func (a *Allocator) removeIntern(s *ObjString) {
	bucket := a.interned[s.Hash]
	for i, e := range bucket {
		if e == s {
			a.interned[s.Hash] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// allocObj links a freshly constructed object into the all-objects list
// and charges the GC accounting for size bytes. Every New* constructor
// below funnels through here so there is exactly one place new heap
// memory becomes visible to the collector.
func (a *Allocator) allocObj(o Obj, size int64) {
	a.link(o)
	a.NoteAllocation(size)
}

// InternString returns the canonical *ObjString for s, allocating and
// linking a new one only the first time s's content is seen. Two calls
// with equal content therefore return the identical pointer -- this is
// string interning identity.
func (a *Allocator) InternString(s string) *ObjString {
	h := fnvHash(s)
	for _, cand := range a.interned[h] {
		if cand.Chars == s {
			return cand
		}
	}
	str := &ObjString{Chars: s, Hash: h}
	str.kind = ObjKindString
	a.interned[h] = append(a.interned[h], str)
	a.allocObj(str, int64(len(s))+32)
	return str
}

// NewFunction allocates an uninitialized function object. The caller
// fills in Arity/Chunk/Name/UpvalueCount before exposing it further.
func (a *Allocator) NewFunction() *ObjFunction {
	f := &ObjFunction{}
	f.kind = ObjKindFunction
	a.allocObj(f, 64)
	return f
}

// NewNative allocates a native-function wrapper.
func (a *Allocator) NewNative(name string, fn NativeFn) *ObjNative {
	n := &ObjNative{Name: name, Fn: fn}
	n.kind = ObjKindNative
	a.allocObj(n, 32)
	return n
}

// NewClosure allocates a closure over fn with upvalueCount empty
// upvalue slots, matching the invariant that UpvalueCount always equals
// the wrapped function's declared count.
func (a *Allocator) NewClosure(fn *ObjFunction) *ObjClosure {
	c := &ObjClosure{Function: fn, Upvalues: make([]*ObjUpvalue, fn.UpvalueCount)}
	c.kind = ObjKindClosure
	a.allocObj(c, int64(24+8*fn.UpvalueCount))
	return c
}

// NewUpvalue allocates an open upvalue pointing at slot.
func (a *Allocator) NewUpvalue(slot *Value) *ObjUpvalue {
	u := &ObjUpvalue{Location: slot}
	u.kind = ObjKindUpvalue
	a.allocObj(u, 48)
	return u
}

// NewClass allocates a class named name with no superclass and empty
// method/privates tables.
func (a *Allocator) NewClass(name *ObjString) *ObjClass {
	c := &ObjClass{
		Name:     name,
		Methods:  make(map[string]*ObjClosure),
		Privates: make(map[string]bool),
	}
	c.kind = ObjKindClass
	a.allocObj(c, 96)
	return c
}

// NewTrait allocates a trait named name with an empty method table.
func (a *Allocator) NewTrait(name *ObjString) *ObjTrait {
	t := &ObjTrait{Name: name, Methods: make(map[string]*ObjClosure)}
	t.kind = ObjKindTrait
	a.allocObj(t, 64)
	return t
}

// NewInstance allocates an instance of class with an empty field table.
func (a *Allocator) NewInstance(class *ObjClass) *ObjInstance {
	i := &ObjInstance{Class: class, Fields: make(map[string]Value)}
	i.kind = ObjKindInstance
	a.allocObj(i, 64)
	return i
}

// NewBoundMethod allocates a bound method pairing receiver with method.
func (a *Allocator) NewBoundMethod(receiver Value, method *ObjClosure) *ObjBoundMethod {
	b := &ObjBoundMethod{Receiver: receiver, Method: method}
	b.kind = ObjKindBoundMethod
	a.allocObj(b, 40)
	return b
}

// NewTable allocates an empty table.
func (a *Allocator) NewTable() *ObjTable {
	t := &ObjTable{Hash: make(map[string]Value)}
	t.kind = ObjKindTable
	a.allocObj(t, 64)
	return t
}
