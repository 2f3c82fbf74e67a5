package vm

import "time"

func (vm *VM) defineNative(name string, fn NativeFn) {
	vm.globals.Set(vm.NewStr(name), &VNative{Fn: fn})
}

func (vm *VM) defineNatives() {
	vm.defineNative("clock", func(_ []Value) Value {
		return VNum(time.Since(vm.started).Seconds())
	})
}
