package vm

import (
	"strconv"

	"github.com/kristofer/ember/pkg/bytecode"
)

// tableKey classifies a subscript key into the fused array+hash table's
// two storage halves: a positive integral number keys the dense array
// part (1-indexed), anything else keyed by interned string falls into
// the hash part. Non-integral numbers are formatted into their
// canonical string form and treated as hash keys, matching Value.String's
// own number formatting.
func tableKey(key bytecode.Value) (arrayIndex int, hashKey string, isArray bool, ok bool) {
	if key.Type == bytecode.ValNumber {
		n := key.AsNumber()
		if n == float64(int64(n)) && n >= 1 {
			return int(n), "", true, true
		}
		return 0, strconv.FormatFloat(n, 'g', -1, 64), false, true
	}
	if key.IsString() {
		return 0, key.AsString(), false, true
	}
	return 0, "", false, false
}

func (vm *VM) tableGet(tbl *bytecode.ObjTable, key bytecode.Value) bytecode.Value {
	idx, hashKey, isArray, ok := tableKey(key)
	if !ok {
		return bytecode.Nil
	}
	if isArray {
		if idx >= 1 && idx <= len(tbl.Array) {
			return tbl.Array[idx-1]
		}
		return bytecode.Nil
	}
	return tbl.Hash[hashKey]
}

func (vm *VM) tableSet(tbl *bytecode.ObjTable, key, val bytecode.Value) {
	idx, hashKey, isArray, ok := tableKey(key)
	if !ok {
		return
	}
	if isArray {
		switch {
		case idx <= len(tbl.Array):
			tbl.Array[idx-1] = val
		case idx == len(tbl.Array)+1:
			tbl.Array = append(tbl.Array, val)
		default:
			// sparse beyond the dense run: degrade to the hash part,
			// keyed by the index's canonical decimal form.
			tbl.Hash[strconv.Itoa(idx)] = val
		}
		return
	}
	tbl.Hash[hashKey] = val
}

func (vm *VM) tableGetOp() error {
	key := vm.pop()
	tblVal := vm.pop()
	if !tblVal.IsObjType(bytecode.ObjKindTable) {
		return vm.runtimeError("attempt to index a %s value", tblVal.TypeName())
	}
	vm.push(vm.tableGet(tblVal.AsObj().(*bytecode.ObjTable), key))
	return nil
}

func (vm *VM) tableSetOp() error {
	val := vm.pop()
	key := vm.pop()
	tblVal := vm.pop()
	if !tblVal.IsObjType(bytecode.ObjKindTable) {
		return vm.runtimeError("attempt to index a %s value", tblVal.TypeName())
	}
	vm.tableSet(tblVal.AsObj().(*bytecode.ObjTable), key, val)
	vm.push(val)
	return nil
}
