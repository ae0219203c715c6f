package worker

import "runtime/debug"

func stackTrace() []byte {
	return debug.Stack()
}
