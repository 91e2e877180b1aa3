//go:build property
// +build property

package board

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

type nopTarget struct{}

func (nopTarget) Init() error           { return nil }
func (nopTarget) Disconnect(bool) error { return nil }

// TestResolutionProperties checks that target type lookup ignores case.
func TestResolutionProperties(t *testing.T) {
	reg := target.NewRegistry()
	names := []string{"cortex_m", "nrf52", "stm32f303_f334_lqfp64", "k64f"}
	for _, n := range names {
		reg.Register(n, func(*session.Session) (target.Target, error) { return nopTarget{}, nil })
	}
	r := NewResolver(reg, zap.NewNop(), ExplicitPack{})

	properties := gopter.NewProperties(nil)

	properties.Property("any casing resolves to the lower-case type", prop.ForAll(
		func(idx int, upper []bool) bool {
			name := names[idx]
			var sb strings.Builder
			for i, ch := range name {
				if i < len(upper) && upper[i] {
					sb.WriteString(strings.ToUpper(string(ch)))
				} else {
					sb.WriteRune(ch)
				}
			}
			_, id, err := r.Resolve(sb.String(), nil)
			return err == nil && id == name
		},
		gen.IntRange(0, len(names)-1),
		gen.SliceOfN(32, gen.Bool()),
	))

	properties.Property("unregistered names fail with the lower-case type", prop.ForAll(
		func(name string) bool {
			if reg.Contains(name) {
				return true
			}
			b, err := New(session.New(nil), name, WithResolver(r))
			rerr, ok := err.(*ResolutionError)
			return b == nil && ok && rerr.TargetType == strings.ToLower(name)
		},
		gen.RegexMatch(`^[A-Za-z][A-Za-z0-9_]{0,15}$`),
	))

	properties.TestingRun(t)
}
