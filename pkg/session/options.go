package session

import (
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Option keys understood by boards, targets and pack loaders.
const (
	OptTargetOverride     = "target_override"
	OptPack               = "pack"
	OptPackCacheDir       = "pack_cache_dir"
	OptTestBinary         = "test_binary"
	OptResumeOnDisconnect = "resume_on_disconnect"
	OptFrequency          = "frequency"
	OptChainLength        = "chain_length"
)

// Options is the session option store. It is backed by a viper instance, so
// values can come from defaults, a config file, OTB_* environment variables
// or bound command-line flags.
type Options struct {
	v *viper.Viper
}

// NewOptions returns a store seeded with values. Keys are case-insensitive.
func NewOptions(values map[string]any) *Options {
	v := viper.New()
	v.SetEnvPrefix("otb")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for k, val := range values {
		v.Set(k, val)
	}
	return &Options{v: v}
}

// FromViper wraps an existing viper instance.
func FromViper(v *viper.Viper) *Options {
	return &Options{v: v}
}

// Get returns the configured value for key, or def when it is unset.
func (o *Options) Get(key string, def any) any {
	if o == nil || !o.v.IsSet(key) {
		return def
	}
	val := o.v.Get(key)
	if val == nil {
		return def
	}
	return val
}

// Has reports whether key is set to a non-nil value.
func (o *Options) Has(key string) bool {
	return o != nil && o.v.IsSet(key) && o.v.Get(key) != nil
}

func (o *Options) Set(key string, val any) {
	o.v.Set(key, val)
}

func (o *Options) String(key, def string) string {
	return cast.ToString(o.Get(key, def))
}

func (o *Options) Bool(key string, def bool) bool {
	return cast.ToBool(o.Get(key, def))
}

func (o *Options) Int(key string, def int) int {
	return cast.ToInt(o.Get(key, def))
}

// Strings accepts a single string, a comma separated list or a list value.
func (o *Options) Strings(key string) []string {
	var out []string
	for _, s := range cast.ToStringSlice(o.Get(key, nil)) {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
