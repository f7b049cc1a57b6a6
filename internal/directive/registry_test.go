package directive

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/vellum/internal/errors"
)

func noop(context.Context, *Call) (string, error) { return "", nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(Descriptor{Name: "badge", Kind: Inline, Handler: noop}))

	desc, ok := reg.Lookup("badge")
	require.True(t, ok)
	assert.Equal(t, Inline, desc.Kind)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Descriptor{Name: "badge", Handler: noop}))

	err := reg.Register(Descriptor{Name: "badge", Handler: noop})
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateDirective(err))
}

func TestRegistryValidatesDescriptors(t *testing.T) {
	reg := NewRegistry()

	testCases := []struct {
		name string
		desc Descriptor
	}{
		{"empty name", Descriptor{Handler: noop}},
		{"leading digit", Descriptor{Name: "1st", Handler: noop}},
		{"slash", Descriptor{Name: "/if", Handler: noop}},
		{"nil handler", Descriptor{Name: "ok"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.Register(tc.desc)
			require.Error(t, err)
			assert.True(t, errors.HasErrorCode(err, errors.ErrCodeInvalidDescriptor))
		})
	}
}

func TestRegistryOverlay(t *testing.T) {
	base := NewRegistry()
	require.NoError(t, base.Register(Descriptor{Name: "if", Handler: noop}))

	overlay, err := base.With(Descriptor{Name: "card", Handler: noop})
	require.NoError(t, err)

	_, ok := overlay.Lookup("if")
	assert.True(t, ok, "overlay resolves through its parent")
	_, ok = overlay.Lookup("card")
	assert.True(t, ok)
	_, ok = base.Lookup("card")
	assert.False(t, ok, "base registry is not modified")

	assert.Equal(t, []string{"card", "if"}, overlay.Names())

	_, err = base.With(Descriptor{Name: "if", Handler: noop})
	assert.True(t, errors.IsDuplicateDirective(err))

	same, err := base.With()
	require.NoError(t, err)
	assert.Same(t, base, same)
}

func TestRegistryFreeze(t *testing.T) {
	base := NewRegistry()
	overlay, err := base.With(Descriptor{Name: "card", Handler: noop})
	require.NoError(t, err)

	overlay.Freeze()
	assert.True(t, overlay.Frozen())
	assert.True(t, base.Frozen())

	err = base.Register(Descriptor{Name: "late", Handler: noop})
	assert.True(t, errors.HasErrorCode(err, errors.ErrCodeRegistryFrozen))
}

func TestRegistryFreezeDuringRegister(t *testing.T) {
	reg := NewRegistry()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := reg.Register(Descriptor{Name: fmt.Sprintf("d%d", i), Handler: noop})
			if err != nil {
				assert.True(t, errors.HasErrorCode(err, errors.ErrCodeRegistryFrozen), "got %v", err)
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
		}(i)
		if i == 20 {
			reg.Freeze()
		}
	}
	wg.Wait()

	assert.Len(t, reg.Names(), accepted)
	err := reg.Register(Descriptor{Name: "after", Handler: noop})
	assert.True(t, errors.HasErrorCode(err, errors.ErrCodeRegistryFrozen))
}

func TestRegistryConcurrentLookup(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 20; i++ {
		require.NoError(t, reg.Register(Descriptor{Name: fmt.Sprintf("d%d", i), Handler: noop}))
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := reg.Lookup(fmt.Sprintf("d%d", i%20))
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()
}

func TestDefaultRegistryHasBuiltins(t *testing.T) {
	names := Default().Names()
	for _, want := range []string{"if", "each", "switch", "case", "default", "stack", "push",
		"csrf", "method", "json", "dev", "prod", "hotReload", "nonceProp"} {
		assert.Contains(t, names, want)
	}
	assert.Same(t, Default(), Default())

	desc, _ := Default().Lookup("hotReload")
	assert.True(t, desc.DevOnly)
	assert.Equal(t, "inline", desc.Info().Kind)
}

func TestExtend(t *testing.T) {
	require.NoError(t, Extend(Descriptor{Name: "extendedOnce", Handler: noop}))

	err := Extend(Descriptor{Name: "if", Handler: noop})
	assert.True(t, errors.IsDuplicateDirective(err))

	Default().Freeze()
	err = Extend(Descriptor{Name: "tooLate", Handler: noop})
	assert.True(t, errors.HasErrorCode(err, errors.ErrCodeRegistryFrozen))
}

type countingTokens struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTokens) CSRFToken(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "tok", nil
}

func (c *countingTokens) CSPNonce(context.Context) (string, error) {
	return "n0nce", nil
}

func TestContextMemoizesTokens(t *testing.T) {
	tokens := &countingTokens{}
	rc := NewContext(Development, tokens)

	for i := 0; i < 3; i++ {
		tok, err := rc.CSRFToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok", tok)
	}
	assert.Equal(t, 1, tokens.calls)
	assert.True(t, rc.IsDevelopment())
}

func TestContextWithoutTokens(t *testing.T) {
	rc := NewContext(nil, nil)
	assert.False(t, rc.IsDevelopment())

	_, err := rc.CSRFToken(context.Background())
	assert.True(t, errors.IsSecurityError(err))

	nonce, err := rc.CSPNonce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nonce)
}

func TestContextStacks(t *testing.T) {
	rc := NewContext(Production, nil)
	rc.Push("scripts", "<a>")
	rc.Push("scripts", "<b>")

	assert.Equal(t, []string{"<a>", "<b>"}, rc.Stack("scripts"))
	assert.Empty(t, rc.Stack("styles"))

	rc.SetCollecting(true)
	assert.True(t, rc.Collecting())
}
