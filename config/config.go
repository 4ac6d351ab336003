// Package config is a small typed parameter registry for XFlat's runtime
// tunables (shard width/base, inactivity shutdown): register a typed param once with its default, then override
// it from an HCL config file or a "-set name=value" flag before startup.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Option bits restrict when a param may be changed.
type Option int

const (
	Default      Option = 0
	NoUpdate     Option = 1 << iota // can't be changed after startup
	NoConfigFile                    // can't be set from a config file
)

type param struct {
	name string
	val  SettableValue
	opts Option
	set  bool // true once set by something other than its default
}

// Registry holds a process's (or a test's) set of typed config params.
type Registry struct {
	params map[string]*param
}

// NewRegistry returns an empty param registry.
func NewRegistry() *Registry {
	return &Registry{params: make(map[string]*param)}
}

func (r *Registry) register(name string, val SettableValue, opts Option) {
	if _, dup := r.params[name]; dup {
		panic(fmt.Sprintf("config: param redefined: %s", name))
	}
	r.params[name] = &param{name: name, val: val, opts: opts}
}

// Int64Param registers and returns a pointer to an int64 param.
func (r *Registry) Int64Param(name string, def int64, opts Option) *int64 {
	v := int64Value(def)
	r.register(name, &v, opts)
	return (*int64)(&v)
}

// DurationParam registers and returns a pointer to a duration param.
func (r *Registry) DurationParam(name string, def time.Duration, opts Option) *time.Duration {
	v := durationValue(def)
	r.register(name, &v, opts)
	return (*time.Duration)(&v)
}

// StringParam registers and returns a pointer to a string param.
func (r *Registry) StringParam(name string, def string, opts Option) *string {
	v := stringValue(def)
	r.register(name, &v, opts)
	return (*string)(&v)
}

// Set overrides name's value from a string, subject to its Option bits.
func (r *Registry) Set(name, val string, opt Option) error {
	p, ok := r.params[name]
	if !ok {
		return fmt.Errorf("config: %s is not a param", name)
	}
	if p.opts&opt != 0 {
		return fmt.Errorf("config: %s may not be set this way", name)
	}
	if err := p.val.Set(val); err != nil {
		return fmt.Errorf("config: param %s: %s", name, err)
	}
	p.set = true
	return nil
}

// Update applies a single "name=value" override to a param after startup,
// rejecting params registered NoUpdate. This is the pathway a long-running
// process uses to change a tunable live, as opposed to Set's startup-time
// CLI overrides.
func (r *Registry) Update(name, val string) error { return r.Set(name, val, NoUpdate) }

// List renders every registered param as "name=value", sorted by name, for
// a "-list-config" style startup dump.
func (r *Registry) List() string {
	names := make([]string, 0, len(r.params))
	for name := range r.params {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%s\n", name, r.params[name].val)
	}
	return b.String()
}
