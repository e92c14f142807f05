// Package interpreters gathers the expression interpreters that ship
// with this repo.
//
// Importing a subpackage registers its interpreter in
// core.DefaultInterpreters, so most callers just import this package
// and use Standard.
package interpreters

import (
	"github.com/rburson-acme/new-rules-sub003/core"
	"github.com/rburson-acme/new-rules-sub003/interpreters/exprlang"
	"github.com/rburson-acme/new-rules-sub003/interpreters/goja"
)

// Standard returns the standard set of interpreters: "expr" (the
// default) and "goja".
func Standard() core.Interpreters {
	return core.Interpreters{
		"expr": exprlang.NewInterpreter(),
		"goja": goja.NewInterpreter(),
	}
}
