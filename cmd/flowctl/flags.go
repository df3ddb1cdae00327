package main

import "fmt"

// configPaths is a custom flag.Value that accepts repeated -config flags,
// accumulating a priority-ordered list where later files override earlier
// ones, matching the teacher's flag.Var(&configFiles, "config", ...) usage.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}
