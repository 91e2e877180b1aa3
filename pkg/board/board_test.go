package board

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/tap"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

const cortexWarning = "Generic 'cortex_m' target type is selected"

// recorder logs hook and target calls in order.
type recorder struct {
	calls   []string
	resumes []bool
}

type fakeTarget struct {
	rec     *recorder
	initErr error
	discErr error
}

func (f *fakeTarget) Init() error {
	f.rec.calls = append(f.rec.calls, "init")
	return f.initErr
}

func (f *fakeTarget) Disconnect(resume bool) error {
	f.rec.calls = append(f.rec.calls, "disconnect")
	f.rec.resumes = append(f.rec.resumes, resume)
	return f.discErr
}

type bothHooks struct {
	rec     *recorder
	willErr error
	boards  []*Board
}

func (d *bothHooks) WillConnect(b *Board) error {
	d.rec.calls = append(d.rec.calls, "will_connect")
	d.boards = append(d.boards, b)
	return d.willErr
}

func (d *bothHooks) DidConnect(b *Board) error {
	d.rec.calls = append(d.rec.calls, "did_connect")
	d.boards = append(d.boards, b)
	return nil
}

type didOnly struct{ rec *recorder }

func (d didOnly) DidConnect(*Board) error {
	d.rec.calls = append(d.rec.calls, "did_connect")
	return nil
}

type fixture struct {
	rec  *recorder
	fake *fakeTarget
	reg  *target.Registry
	logs *observer.ObservedLogs
	log  *zap.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		rec:  &recorder{},
		reg:  target.NewBuiltinRegistry(),
		logs: logs,
		log:  zap.New(core),
	}
	f.fake = &fakeTarget{rec: f.rec}
	f.reg.Register("fake", func(*session.Session) (target.Target, error) { return f.fake, nil })
	return f
}

// options isolates the managed pack cache from the user's cache directory.
func (f *fixture) options(t *testing.T, values map[string]any) *session.Options {
	t.Helper()
	opts := session.NewOptions(values)
	if !opts.Has(session.OptPackCacheDir) {
		opts.Set(session.OptPackCacheDir, t.TempDir())
	}
	return opts
}

func (f *fixture) board(t *testing.T, s *session.Session, targetType string) *Board {
	t.Helper()
	b, err := New(s, targetType, WithRegistry(f.reg), WithLogger(f.log))
	require.NoError(t, err)
	return b
}

func simProbe(t *testing.T, ids ...uint32) (*probe.AdapterProbe, *probe.ChainSim) {
	t.Helper()
	sim := probe.NewChainSim(probe.AdapterInfo{
		Name: "sim", Vendor: "ACME", Model: "Probe1", SerialNumber: "0001",
	}, ids...)
	p, err := probe.New(sim)
	require.NoError(t, err)
	return p, sim
}

func TestDefaultTargetEndToEnd(t *testing.T) {
	f := newFixture(t)
	p, sim := simProbe(t, 0x4BA00477)
	hooks := &bothHooks{rec: f.rec}
	s := session.New(f.options(t, nil), session.WithProbe(p), session.WithDelegate(hooks))

	b := f.board(t, s, "")
	assert.Equal(t, target.CortexM, b.TargetType())
	assert.Equal(t, 1, f.logs.FilterMessageSnippet(cortexWarning).Len())
	typeLogs := f.logs.FilterMessage("Target type is cortex_m").All()
	require.Len(t, typeLogs, 1)
	assert.Equal(t, "cortex_m", typeLogs[0].ContextMap()["target"])
	assert.Equal(t, "0001", b.UniqueID())
	assert.Equal(t, "ACME Probe1 [cortex_m]", b.Description())
	assert.Equal(t, "generic", b.Name())
	assert.False(t, b.Initialized())

	require.NoError(t, b.Init())
	assert.True(t, b.Initialized())
	assert.Same(t, hooks, b.Delegate())
	assert.Equal(t, []string{"will_connect", "did_connect"}, f.rec.calls)
	assert.Equal(t, []*Board{b, b}, hooks.boards)

	ct, ok := b.Target().(*target.ChainTarget)
	require.True(t, ok)
	dev, ok := ct.Device()
	require.True(t, ok)
	assert.Equal(t, uint32(0x4BA00477), dev.Raw)

	b.Uninit()
	assert.False(t, b.Initialized())
	assert.Equal(t, tap.StateTestLogicReset, sim.State(), "resume should release the TAP")
}

func TestExplicitCortexMWarnsOnce(t *testing.T) {
	f := newFixture(t)
	b := f.board(t, session.New(f.options(t, nil), session.WithProbe(mustProbe(t))), "Cortex_M")
	assert.Equal(t, target.CortexM, b.TargetType())
	assert.Equal(t, 1, f.logs.FilterMessageSnippet(cortexWarning).Len())
}

func mustProbe(t *testing.T) *probe.AdapterProbe {
	p, _ := simProbe(t, 0x4BA00477)
	return p
}

func TestOtherTargetDoesNotWarn(t *testing.T) {
	f := newFixture(t)
	b := f.board(t, session.New(f.options(t, nil)), "FAKE")
	assert.Equal(t, "fake", b.TargetType())
	assert.Zero(t, f.logs.FilterMessageSnippet(cortexWarning).Len())
}

func TestNoProbeIdentity(t *testing.T) {
	f := newFixture(t)
	b := f.board(t, session.New(f.options(t, nil)), "fake")
	assert.Empty(t, b.UniqueID())
	assert.Equal(t, "  [fake]", b.Description())
}

func TestTestBinaryOption(t *testing.T) {
	f := newFixture(t)
	b := f.board(t, session.New(f.options(t, map[string]any{"test_binary": "blinky.elf"})), "fake")
	assert.Equal(t, "blinky.elf", b.TestBinary())

	b = f.board(t, session.New(f.options(t, nil)), "fake")
	assert.Empty(t, b.TestBinary())
}

func TestUnknownTargetType(t *testing.T) {
	f := newFixture(t)
	b, err := New(session.New(f.options(t, nil)), "LPC1768", WithRegistry(f.reg), WithLogger(f.log))
	require.Error(t, err)
	assert.Nil(t, b)

	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "lpc1768", rerr.TargetType)
	assert.ErrorIs(t, err, target.ErrNotFound)
	assert.Contains(t, err.Error(), `"lpc1768"`)
	assert.Contains(t, err.Error(), Remediation)
}

func TestConstructionFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("no flash algo")
	f.reg.Register("broken", func(*session.Session) (target.Target, error) { return nil, boom })

	b, err := New(session.New(f.options(t, nil)), "broken", WithRegistry(f.reg), WithLogger(f.log))
	assert.Nil(t, b)
	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, target.ErrNotFound)
}

func TestCortexMNeedsProbe(t *testing.T) {
	f := newFixture(t)
	_, err := New(session.New(f.options(t, nil)), "", WithRegistry(f.reg), WithLogger(f.log))
	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, target.CortexM, cerr.TargetType)
}

func TestInitFailureLeavesBoardUninitialized(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("probe timeout")
	f.fake.initErr = boom
	s := session.New(f.options(t, nil), session.WithDelegate(&bothHooks{rec: f.rec}))
	b := f.board(t, s, "fake")

	err := b.Init()
	var ierr *InitError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, boom)
	assert.False(t, b.Initialized())
	assert.Equal(t, []string{"will_connect", "init"}, f.rec.calls, "did_connect must not run")

	b.Uninit()
	assert.Equal(t, []string{"will_connect", "init"}, f.rec.calls, "uninit of a failed board is a no-op")
}

func TestWillConnectErrorPropagates(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("veto")
	b := f.board(t, session.New(f.options(t, nil)), "fake")
	b.SetDelegate(&bothHooks{rec: f.rec, willErr: boom})

	err := b.Init()
	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "will_connect", herr.Hook)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"will_connect"}, f.rec.calls)
	assert.False(t, b.Initialized())
}

func TestDelegateOptional(t *testing.T) {
	f := newFixture(t)
	b := f.board(t, session.New(f.options(t, nil)), "fake")
	require.NoError(t, b.Init())
	assert.Nil(t, b.Delegate())
	assert.Equal(t, []string{"init"}, f.rec.calls)
}

func TestNilPointerDelegateIsIgnored(t *testing.T) {
	f := newFixture(t)
	var hooks *bothHooks
	b := f.board(t, session.New(f.options(t, nil), session.WithDelegate(hooks)), "fake")

	require.NotPanics(t, func() { require.NoError(t, b.Init()) })
	assert.True(t, b.Initialized())
	assert.Equal(t, []string{"init"}, f.rec.calls)

	// A nil pointer set on the board still lets the session delegate in.
	sessionHooks := &bothHooks{rec: f.rec}
	b = f.board(t, session.New(f.options(t, nil), session.WithDelegate(sessionHooks)), "fake")
	b.SetDelegate(hooks)
	require.NoError(t, b.Init())
	assert.Same(t, sessionHooks, b.Delegate())
}

func TestIsNil(t *testing.T) {
	var p *bothHooks
	var m map[string]int
	assert.True(t, isNil(nil))
	assert.True(t, isNil(p))
	assert.True(t, isNil(m))
	assert.False(t, isNil(&bothHooks{}))
	assert.False(t, isNil(didOnly{}))
}

func TestPartialDelegate(t *testing.T) {
	f := newFixture(t)
	b := f.board(t, session.New(f.options(t, nil)), "fake")
	b.SetDelegate(didOnly{rec: f.rec})
	require.NoError(t, b.Init())
	assert.Equal(t, []string{"init", "did_connect"}, f.rec.calls)
}

func TestBoardDelegateNotOverwritten(t *testing.T) {
	f := newFixture(t)
	mine := &bothHooks{rec: &recorder{}}
	theirs := &bothHooks{rec: &recorder{}}
	b := f.board(t, session.New(f.options(t, nil), session.WithDelegate(theirs)), "fake")
	b.SetDelegate(mine)

	require.NoError(t, b.Init())
	assert.Same(t, mine, b.Delegate())
	assert.Len(t, mine.rec.calls, 2)
	assert.Empty(t, theirs.rec.calls)
}

func TestUninitResumeOption(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   bool
	}{
		{"default", nil, true},
		{"false", map[string]any{"resume_on_disconnect": false}, false},
		{"string", map[string]any{"resume_on_disconnect": "false"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			b := f.board(t, session.New(f.options(t, tt.values)), "fake")
			require.NoError(t, b.Init())
			b.Uninit()
			assert.Equal(t, []bool{tt.want}, f.rec.resumes)
		})
	}
}

func TestUninitSwallowsDisconnectError(t *testing.T) {
	f := newFixture(t)
	f.fake.discErr = errors.New("usb gone")
	b := f.board(t, session.New(f.options(t, nil)), "fake")
	require.NoError(t, b.Init())

	b.Uninit()
	assert.False(t, b.Initialized())

	errs := f.logs.FilterMessage("error during board uninit").All()
	require.Len(t, errs, 1)
	assert.Equal(t, zapcore.ErrorLevel, errs[0].Level)
	assert.Contains(t, errs[0].ContextMap()["error"], "usb gone")

	b.Uninit()
	assert.Equal(t, []bool{true}, f.rec.resumes, "second uninit is a no-op")
}

func TestUninitBeforeInit(t *testing.T) {
	f := newFixture(t)
	b := f.board(t, session.New(f.options(t, nil)), "fake")
	b.Uninit()
	assert.Empty(t, f.rec.calls)
}

func TestReinitAfterUninit(t *testing.T) {
	f := newFixture(t)
	b := f.board(t, session.New(f.options(t, nil)), "fake")
	require.NoError(t, b.Init())
	b.Uninit()
	require.NoError(t, b.Init())
	assert.True(t, b.Initialized())
	assert.Equal(t, StateReady, b.State())
	assert.Equal(t, []string{"init", "disconnect", "init"}, f.rec.calls)
}

func TestExplicitPackDefinesTarget(t *testing.T) {
	f := newFixture(t)
	p, _ := simProbe(t, 0x4BA00477)
	opts := f.options(t, map[string]any{"pack": "../pack/testdata/pack/nrf52.bsd"})
	b := f.board(t, session.New(opts, session.WithProbe(p)), "NRF52")

	assert.Equal(t, "nrf52", b.TargetType())
	assert.Equal(t, "ACME Probe1 [nrf52]", b.Description())
	assert.Equal(t, 1, f.logs.FilterMessage("Target type is nrf52").Len())
	require.NoError(t, b.Init())
	b.Uninit()
}

func TestExplicitPackOverridesBuiltin(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	pack := `entity CORTEX_M is
  attribute IDCODE_REGISTER of CORTEX_M : entity is "00010000000000000000000000000001";
end CORTEX_M;
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cm.bsd"), []byte(pack), 0o644))
	p, _ := simProbe(t, 0x4BA00477)
	b := f.board(t, session.New(f.options(t, map[string]any{"pack": dir}), session.WithProbe(p)), "")

	def, ok := f.reg.Definition(target.CortexM)
	require.True(t, ok)
	assert.Equal(t, uint32(0x10000001), def.IDCode)
	assert.ErrorContains(t, b.Init(), "no device on the chain matches cortex_m")
}

func TestExplicitPackLoadFailure(t *testing.T) {
	f := newFixture(t)
	opts := f.options(t, map[string]any{"pack": "../pack/testdata/bad"})
	b, err := New(session.New(opts), "fake", WithRegistry(f.reg), WithLogger(f.log))
	assert.Nil(t, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explicit pack")
	var rerr *ResolutionError
	assert.False(t, errors.As(err, &rerr))
}

func TestManagedPackResolvesTarget(t *testing.T) {
	f := newFixture(t)
	p, _ := simProbe(t, 0x16420041)
	opts := f.options(t, map[string]any{"pack_cache_dir": "../pack/testdata/managed"})
	b := f.board(t, session.New(opts, session.WithProbe(p)), "STM32F303")

	assert.Equal(t, "stm32f303", b.TargetType())
	require.NoError(t, b.Init())
	b.Uninit()
}

func TestManagedPackFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.toml"), []byte("not toml ["), 0o644))

	_, err := New(session.New(f.options(t, map[string]any{"pack_cache_dir": dir})), "stm32f303",
		WithRegistry(f.reg), WithLogger(f.log))
	assert.ErrorIs(t, err, target.ErrNotFound)
	assert.Equal(t, 1, f.logs.FilterMessage("managed pack lookup failed").Len())
}

func TestManagedPackSkippedForKnownTarget(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.toml"), []byte("not toml ["), 0o644))

	b, err := New(session.New(f.options(t, map[string]any{"pack_cache_dir": dir})), "FAKE",
		WithRegistry(f.reg), WithLogger(f.log))
	require.NoError(t, err)
	assert.Equal(t, "fake", b.TargetType())
	assert.Zero(t, f.logs.FilterMessage("managed pack lookup failed").Len(),
		"the cache must not be read for a registered target")
}

func TestExplicitPackWinsOverManagedPack(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	explicit := `entity STM32F303 is
  attribute INSTRUCTION_LENGTH of STM32F303 : entity is 7;
  attribute IDCODE_REGISTER of STM32F303 : entity is "00000000000000000000000000000011";
end STM32F303;
`
	path := filepath.Join(dir, "stm32f303.bsd")
	require.NoError(t, os.WriteFile(path, []byte(explicit), 0o644))

	opts := f.options(t, map[string]any{
		"pack":           path,
		"pack_cache_dir": "../pack/testdata/managed",
	})
	b, err := New(session.New(opts), "stm32f303", WithRegistry(f.reg), WithLogger(f.log))
	// The chain target needs a probe; only the registry contents matter here.
	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	assert.Nil(t, b)

	def, ok := f.reg.Definition("stm32f303")
	require.True(t, ok)
	assert.Equal(t, path, def.Source)
	assert.Equal(t, uint32(0x3), def.IDCode)
	assert.Equal(t, 7, def.IRLength)
	assert.False(t, f.reg.Contains("stm32f303_f334_lqfp64"), "managed cache must not be consulted")
}

type countingStrategy struct{ ids []string }

func (c *countingStrategy) Name() string { return "counting" }

func (c *countingStrategy) Populate(_ *target.Registry, id string, _ *session.Options) error {
	c.ids = append(c.ids, id)
	return nil
}

func TestResolverNormalizesBeforeStrategies(t *testing.T) {
	f := newFixture(t)
	c := &countingStrategy{}
	r := NewResolver(f.reg, f.log, c)

	_, id, err := r.Resolve(" FaKe ", nil)
	require.NoError(t, err)
	assert.Equal(t, "fake", id)
	_, id, err = r.Resolve("", nil)
	require.NoError(t, err)
	assert.Equal(t, target.CortexM, id)
	assert.Equal(t, []string{"fake", target.CortexM}, c.ids)
}

func TestWithResolver(t *testing.T) {
	f := newFixture(t)
	c := &countingStrategy{}
	b, err := New(session.New(nil), "fake", WithResolver(NewResolver(f.reg, f.log, c)))
	require.NoError(t, err)
	assert.Equal(t, "fake", b.TargetType())
	assert.Equal(t, []string{"fake"}, c.ids)
}

func TestNilSession(t *testing.T) {
	_, err := New(nil, "")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Uninitialized", StateUninitialized.String())
	assert.Equal(t, "Ready", StateReady.String())
	assert.Equal(t, "State(7)", State(7).String())
}
