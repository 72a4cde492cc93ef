package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splice/internal/host"
)

func TestDetector_AcceptsPrimaryLoader(t *testing.T) {
	slots := host.NewSlots()
	var detected *host.FactoryMap
	var cache *host.Cache
	d := New(Options{
		OnDetect: func(fm *host.FactoryMap) { detected = fm },
		OnCache:  func(c *host.Cache) { cache = c },
	})
	d.Arm(slots)

	rt := host.NewRuntime("main", slots)
	require.NoError(t, rt.Install())

	assert.True(t, d.Detected())
	assert.Same(t, rt.Factories(), detected)
	assert.Same(t, rt.Cache(), cache)
	assert.Same(t, rt.Cache(), d.Cache())
	assert.False(t, slots.Observed("m"), "the slot is a plain slot after detection")

	v, ok := slots.Get("m")
	require.True(t, ok)
	assert.Same(t, rt.Factories(), v)
}

func TestDetector_RejectsDecoyAndRearms(t *testing.T) {
	slots := host.NewSlots()
	d := New(Options{})
	d.Arm(slots)

	decoy := host.NewRuntime("entry", slots, host.WithShell("func entry() { start() }"))
	require.NoError(t, decoy.Install())
	assert.False(t, d.Detected())
	assert.Equal(t, 1, d.Rejected())
	assert.True(t, slots.Observed("m"))

	primary := host.NewRuntime("main", slots)
	require.NoError(t, primary.Install())
	assert.True(t, d.Detected())
	assert.Same(t, primary.Factories(), d.Factories())
	assert.Same(t, primary.Cache(), d.Cache(), "the decoy's cache is not adopted")
}

func TestDetector_StackFilter(t *testing.T) {
	slots := host.NewSlots()
	var seen []string
	d := New(Options{Filter: func(_ any, stack []string) bool {
		seen = stack
		for _, frame := range stack {
			if strings.Contains(frame, "(*Runtime).Install") {
				return true
			}
		}
		return false
	}})
	d.Arm(slots)

	// A direct assignment does not come from a loader install.
	slots.Set("m", host.NewFactoryMap())
	assert.False(t, d.Detected())
	require.NotEmpty(t, seen)
	assert.Contains(t, seen[0], "TestDetector_StackFilter")

	require.NoError(t, host.NewRuntime("main", slots).Install())
	assert.True(t, d.Detected())
}

func TestDetector_RejectsForeignValuesAndPanics(t *testing.T) {
	slots := host.NewSlots()
	d := New(Options{Filter: func(any, []string) bool { panic("bad filter") }})
	d.Arm(slots)

	slots.Set("m", "not a factory map")
	require.NoError(t, host.NewRuntime("main", slots).Install())
	assert.False(t, d.Detected())
	assert.Equal(t, 2, d.Rejected())
}

func TestDetector_CustomSlotNames(t *testing.T) {
	slots := host.NewSlots()
	d := New(Options{Slots: SlotNames{Modules: "factories", Cache: "instances"}})
	d.Arm(slots)

	require.NoError(t, host.NewRuntime("default", slots).Install())
	assert.False(t, d.Detected())

	rt := host.NewRuntime("custom", slots, host.WithSlotNames("factories", "instances"))
	require.NoError(t, rt.Install())
	assert.True(t, d.Detected())
	assert.Same(t, rt.Cache(), d.Cache())
}

func TestDetector_Disarm(t *testing.T) {
	slots := host.NewSlots()
	d := New(Options{})
	d.Arm(slots)
	d.Disarm()
	assert.False(t, d.Armed())

	require.NoError(t, host.NewRuntime("main", slots).Install())
	assert.False(t, d.Detected())
}

func TestExprFilter(t *testing.T) {
	f, err := ExprFilter(`candidate contains "__require__.m" && !any(stack, {# contains "decoy"})`)
	require.NoError(t, err)

	primary := host.NewRuntime("main", host.NewSlots()).Factories()
	other := host.NewRuntime("x", host.NewSlots(), host.WithShell("nothing")).Factories()

	assert.True(t, f(primary, []string{"main.load (main.go:1)"}))
	assert.False(t, f(primary, []string{"main.decoy (main.go:2)"}))
	assert.False(t, f(other, nil))
	assert.False(t, f(42, nil))

	_, err = ExprFilter(`candidate +`)
	assert.Error(t, err)
	_, err = ExprFilter(`candidate`)
	assert.Error(t, err, "filters must yield a bool")
}

func TestAll(t *testing.T) {
	yes := func(any, []string) bool { return true }
	no := func(any, []string) bool { return false }
	assert.True(t, All(yes, nil, yes)(nil, nil))
	assert.False(t, All(yes, no)(nil, nil))
}
