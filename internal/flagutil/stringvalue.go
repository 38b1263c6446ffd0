// Package flagutil supplements the stdlib flag package. Currently that means StringValue, a
// flag.Value implementation that collects every occurrence of a repeatable string option, letting
// commands accept e.g.:
//
//	$command -s 8.8.8.8 -s 1.1.1.1 -s 9.9.9.9
//
// Usage follows the flag package conventions:
//
//	var servers flagutil.StringValue
//	flagSet.Var(&servers, "s", "Server to query (repeatable)")
//	list := servers.Args()
package flagutil

import (
	"strings"
)

// StringValue accumulates the values of a repeatable command-line option. The zero value is ready
// to pass to flag.Var.
type StringValue struct {
	values []string
}

// Set appends one occurrence's value. The flag package calls this once per occurrence on the
// command line. It never fails.
func (sv *StringValue) Set(s string) error {
	sv.values = append(sv.values, s)

	return nil
}

// String renders all collected values space-separated, mostly for flag's default-value printing.
func (sv *StringValue) String() string {
	return strings.Join(sv.values, " ")
}

// Args returns a copy of the collected values which the caller may modify freely.
func (sv *StringValue) Args() []string {
	return append([]string{}, sv.values...)
}

// NArg returns how many values have been collected.
func (sv *StringValue) NArg() int {
	return len(sv.values)
}
