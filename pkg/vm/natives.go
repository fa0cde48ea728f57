// Builtin globals: one Go function per entry, registered into vm.globals
// as an ObjNative, one Go method per builtin name. The set is small and
// fixed -- print, read, type, tostring, tonumber, assert, error, pairs,
// ipairs, next, rawget, rawset, require (see DESIGN.md for what was
// deliberately left out).
package vm

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/compiler"
	"github.com/kristofer/ember/pkg/diag"
)

func (vm *VM) defineNatives() {
	vm.defineNative("print", vm.nativePrint)
	vm.defineNative("read", vm.nativeRead)
	vm.defineNative("type", vm.nativeType)
	vm.defineNative("tonumber", vm.nativeToNumber)
	vm.defineNative("tostring", vm.nativeToString)
	vm.defineNative("require", vm.nativeRequire)
	vm.defineNative("pairs", vm.nativePairs)
	vm.defineNative("ipairs", vm.nativeIPairs)
	vm.defineNative("next", vm.nativeNext)
	vm.defineNative("error", vm.nativeError)
	vm.defineNative("assert", vm.nativeAssert)
	vm.defineNative("rawget", vm.nativeRawGet)
	vm.defineNative("rawset", vm.nativeRawSet)
	// __ipairs_next is the hidden array-only iterator ipairs() hands back;
	// it is not part of named builtin set, only a helper
	// for ipairs(), so it is deliberately not documented there.
	vm.defineNative("__ipairs_next", vm.nativeIPairsNext)
}

func (vm *VM) defineNative(name string, fn bytecode.NativeFn) {
	native := vm.alloc.NewNative(name, fn)
	vm.globals[name] = bytecode.ObjVal(native)
}

// DefineNative registers fn as a global native callable under name. It is
// exported for callers outside the package (the CLI's interop bridge
// wiring) that need to add builtins beyond the fixed set defineNatives
// installs at startup.
func (vm *VM) DefineNative(name string, fn bytecode.NativeFn) {
	vm.defineNative(name, fn)
}

func (vm *VM) nativePrint(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	fmt.Fprintln(vm.out, strings.Join(parts, "\t"))
	return bytecode.Nil, nil
}

func (vm *VM) nativeRead(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if vm.in == nil {
		return bytecode.Nil, fmt.Errorf("read: no input stream configured")
	}
	if vm.stdin == nil {
		vm.stdin = bufio.NewReader(vm.in)
	}
	line, err := vm.stdin.ReadString('\n')
	if err != nil && line == "" {
		return bytecode.Nil, nil
	}
	return bytecode.ObjVal(vm.alloc.InternString(strings.TrimRight(line, "\r\n"))), nil
}

func (vm *VM) nativeType(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.Nil, fmt.Errorf("type expects exactly one argument")
	}
	return bytecode.ObjVal(vm.alloc.InternString(args[0].TypeName())), nil
}

func (vm *VM) nativeToNumber(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.Nil, fmt.Errorf("tonumber expects exactly one argument")
	}
	switch {
	case args[0].Type == bytecode.ValNumber:
		return args[0], nil
	case args[0].IsString():
		n, err := strconv.ParseFloat(strings.TrimSpace(args[0].AsString()), 64)
		if err != nil {
			return bytecode.Nil, nil
		}
		return bytecode.Number(n), nil
	default:
		return bytecode.Nil, nil
	}
}

func (vm *VM) nativeToString(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.Nil, fmt.Errorf("tostring expects exactly one argument")
	}
	return bytecode.ObjVal(vm.alloc.InternString(args[0].String())), nil
}

// nativeRequire loads and runs another Ember source file once, caching
// by path. It compiles and calls the module as a
// nested closure through CallValue rather than Interpret, since
// Interpret's run(0) assumes frameCount starts at zero and this native
// is itself invoked from inside an already-running call stack.
func (vm *VM) nativeRequire(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 || !args[0].IsString() {
		return bytecode.Nil, fmt.Errorf("require expects a single string argument")
	}
	path := args[0].AsString()
	if vm.loaded[path] {
		return bytecode.Bool(true), nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return bytecode.Nil, fmt.Errorf("require: %w", err)
	}

	reporter := diag.NewReporter(vm.out, path, string(src))
	fn, ok := compiler.Compile(string(src), vm.alloc, reporter, vm)
	reporter.Flush()
	if !ok {
		return bytecode.Nil, fmt.Errorf("require: compile error in %s", path)
	}

	closure := vm.alloc.NewClosure(fn)
	result, err := vm.CallValue(bytecode.ObjVal(closure), nil)
	if err != nil {
		return bytecode.Nil, err
	}
	vm.loaded[path] = true
	return result, nil
}

// orderedTableKeys gives a table's keys a deterministic order -- array
// indices first, then hash keys sorted lexically -- so repeated next()
// calls make steady progress even though Go deliberately randomizes its
// own map iteration order between ranges.
func (vm *VM) orderedTableKeys(tbl *bytecode.ObjTable) []bytecode.Value {
	keys := make([]bytecode.Value, 0, len(tbl.Array)+len(tbl.Hash))
	for i := range tbl.Array {
		keys = append(keys, bytecode.Number(float64(i+1)))
	}
	hashKeys := make([]string, 0, len(tbl.Hash))
	for k := range tbl.Hash {
		hashKeys = append(hashKeys, k)
	}
	sort.Strings(hashKeys)
	for _, k := range hashKeys {
		keys = append(keys, bytecode.ObjVal(vm.alloc.InternString(k)))
	}
	return keys
}

func (vm *VM) nativePairs(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 || !args[0].IsObjType(bytecode.ObjKindTable) {
		return bytecode.Nil, fmt.Errorf("pairs expects a table")
	}
	return vm.globals["next"], nil
}

func (vm *VM) nativeIPairs(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 || !args[0].IsObjType(bytecode.ObjKindTable) {
		return bytecode.Nil, fmt.Errorf("ipairs expects a table")
	}
	return vm.globals["__ipairs_next"], nil
}

// nativeNext implements Ember's single-value traversal protocol: a
// two-element ObjTable {key, value} rather than Lua's native
// multi-return, since Ember functions only ever return one value.
func (vm *VM) nativeNext(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) < 1 || !args[0].IsObjType(bytecode.ObjKindTable) {
		return bytecode.Nil, fmt.Errorf("next expects a table")
	}
	tbl := args[0].AsObj().(*bytecode.ObjTable)
	keys := vm.orderedTableKeys(tbl)

	key := bytecode.Nil
	if len(args) > 1 {
		key = args[1]
	}

	idx := 0
	if !key.IsNil() {
		found := -1
		for i, k := range keys {
			if k.Equal(key) {
				found = i
				break
			}
		}
		if found == -1 {
			return bytecode.Nil, fmt.Errorf("invalid key passed to next")
		}
		idx = found + 1
	}
	if idx >= len(keys) {
		return bytecode.Nil, nil
	}

	nextKey := keys[idx]
	pair := vm.alloc.NewTable()
	pair.Array = append(pair.Array, nextKey, vm.tableGet(tbl, nextKey))
	return bytecode.ObjVal(pair), nil
}

// nativeIPairsNext is ipairs()'s iterator: array-only, stops at the
// first gap rather than walking the hash part too.
func (vm *VM) nativeIPairsNext(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) < 1 || !args[0].IsObjType(bytecode.ObjKindTable) {
		return bytecode.Nil, fmt.Errorf("ipairs iterator expects a table")
	}
	tbl := args[0].AsObj().(*bytecode.ObjTable)

	idx := 0
	if len(args) > 1 && args[1].Type == bytecode.ValNumber {
		idx = int(args[1].AsNumber())
	}
	next := idx + 1
	if next > len(tbl.Array) {
		return bytecode.Nil, nil
	}

	pair := vm.alloc.NewTable()
	pair.Array = append(pair.Array, bytecode.Number(float64(next)), tbl.Array[next-1])
	return bytecode.ObjVal(pair), nil
}

func (vm *VM) nativeError(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	msg := "error"
	if len(args) > 0 {
		msg = args[0].String()
	}
	return bytecode.Nil, fmt.Errorf("%s", msg)
}

func (vm *VM) nativeAssert(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) == 0 || args[0].Falsy() {
		msg := "assertion failed!"
		if len(args) > 1 {
			msg = args[1].String()
		}
		return bytecode.Nil, fmt.Errorf("%s", msg)
	}
	return args[0], nil
}

// rawget/rawset bypass nothing Ember doesn't already bypass -- there is
// no metatable layer in this spec, so they behave identically to the
// TABLE_GET/TABLE_SET opcodes. They exist only for API parity with the
// Lua-family naming convention builtin list borrows.
func (vm *VM) nativeRawGet(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 2 || !args[0].IsObjType(bytecode.ObjKindTable) {
		return bytecode.Nil, fmt.Errorf("rawget expects a table and a key")
	}
	return vm.tableGet(args[0].AsObj().(*bytecode.ObjTable), args[1]), nil
}

func (vm *VM) nativeRawSet(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 3 || !args[0].IsObjType(bytecode.ObjKindTable) {
		return bytecode.Nil, fmt.Errorf("rawset expects a table, a key, and a value")
	}
	vm.tableSet(args[0].AsObj().(*bytecode.ObjTable), args[1], args[2])
	return args[0], nil
}
