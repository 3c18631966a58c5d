package vm

import "fmt"

// Config is the file and flag form of the runtime options. The CLI loads it
// with viper; the field tags name the keys.
type Config struct {
	StackSize     int    `mapstructure:"stack_size" toml:"stack_size"`
	StackReserve  int    `mapstructure:"stack_reserve" toml:"stack_reserve"`
	Dispatch      string `mapstructure:"dispatch" toml:"dispatch"`
	ShadowTags    bool   `mapstructure:"shadow_tags" toml:"shadow_tags"`
	HeapLimit     int64  `mapstructure:"heap_limit" toml:"heap_limit"`
	CheckInterval int    `mapstructure:"check_interval" toml:"check_interval"`
	Profile       bool   `mapstructure:"profile" toml:"profile"`
}

// DefaultConfig returns the configuration New uses without options.
func DefaultConfig() Config {
	return Config{
		StackSize:    DefaultStackSize,
		StackReserve: DefaultStackReserve,
		Dispatch:     DispatchTable.String(),
	}
}

// Options converts the configuration into runtime options.
func (c Config) Options() ([]Option, error) {
	d, err := ParseDispatch(c.Dispatch)
	if err != nil {
		return nil, err
	}
	if c.StackSize < 0 || c.StackReserve < 0 {
		return nil, fmt.Errorf("invalid stack size %d with reserve %d", c.StackSize, c.StackReserve)
	}
	if c.StackSize > 0 && c.StackReserve >= c.StackSize {
		return nil, fmt.Errorf("stack reserve %d must be smaller than the stack size %d", c.StackReserve, c.StackSize)
	}
	opts := []Option{
		WithStackSize(c.StackSize),
		WithStackReserve(c.StackReserve),
		WithDispatch(d),
		WithShadowTags(c.ShadowTags),
	}
	if c.HeapLimit > 0 {
		opts = append(opts, WithHeapLimit(c.HeapLimit))
	}
	if c.CheckInterval > 0 {
		opts = append(opts, WithCheckInterval(c.CheckInterval))
	}
	if c.Profile {
		opts = append(opts, WithProfiler(NewProfiler()))
	}
	return opts, nil
}
