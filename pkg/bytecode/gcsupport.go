package bytecode

// SetMarked flips o's GC mark bit to true and reports whether it was
// already set, so a tracing collector (pkg/vm/gc.go) can tell whether an
// object still needs its outgoing references queued without needing
// access to the otherwise-unexported header.
func SetMarked(o Obj) bool {
	h := o.header()
	was := h.marked
	h.marked = true
	return was
}
