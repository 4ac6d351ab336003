package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl"
)

// Load decodes an HCL config file and applies every top-level attribute it
// finds to this registry's matching param. Unknown names or params marked
// NoConfigFile are reported as errors rather than silently ignored.
func (r *Registry) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var decoded map[string]interface{}
	if err := hcl.Decode(&decoded, string(b)); err != nil {
		return fmt.Errorf("config: %s: %s", path, err)
	}

	for name, val := range decoded {
		p, ok := r.params[name]
		if !ok {
			return fmt.Errorf("config: %s is not a config variable", name)
		}
		if p.opts&NoConfigFile != 0 {
			return fmt.Errorf("config: %s can't be set in a config file", name)
		}
		if err := p.val.SetValue(val); err != nil {
			return fmt.Errorf("config: %s: %s", name, err)
		}
		p.set = true
	}
	return nil
}
