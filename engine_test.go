// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lbp

import (
	"math/big"
	"testing"

	"github.com/daoleno/uniswapv3-sdk/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testEpochSize = 3600

var (
	sqrtRatio2To1 = utils.EncodeSqrtRatioX96(big.NewInt(2), big.NewInt(1))
	sqrtRatio1To2 = utils.EncodeSqrtRatioX96(big.NewInt(1), big.NewInt(2))
)

type testEnv struct {
	t      *testing.T
	clock  uint64
	ledger *MemLedger
	pm     *PoolManager
	engine *Engine
	router *Router

	key    PoolKey
	owner  common.Address
	trader common.Address
}

func newTestEnv(t *testing.T, tickSpacing int24) *testEnv {
	t.Helper()

	env := &testEnv{
		t:      t,
		ledger: NewMemLedger(),
		owner:  common.HexToAddress("0x00000000000000000000000000000000000000AA"),
		trader: common.HexToAddress("0x00000000000000000000000000000000000000BB"),
	}

	pmAddr := common.HexToAddress("0x0000000000000000000000000000000000000A01")
	env.pm = NewPoolManager(pmAddr, env.ledger)

	deployer := common.HexToAddress("0x00000000000000000000000000000000000000DD")
	engineAddr := GenerateHookAddress(deployer, [32]byte{}, HookPermissions{
		AfterInitialize: true,
		BeforeSwap:      true,
	})

	engine, err := NewEngine(engineAddr, env.pm, env.ledger, zaptest.NewLogger(t))
	require.NoError(t, err)
	engine.now = func() uint64 { return env.clock }
	env.engine = engine

	routerAddr := common.HexToAddress("0x00000000000000000000000000000000000000CC")
	env.router = NewRouter(env.pm, routerAddr)

	env.key = PoolKey{
		Currency0:   Currency{Address: common.HexToAddress("0x0000000000000000000000000000000000000001")},
		Currency1:   Currency{Address: common.HexToAddress("0x0000000000000000000000000000000000000002")},
		Fee:         0,
		TickSpacing: tickSpacing,
		Hooks:       engineAddr,
	}

	return env
}

// initialize funds the owner and initializes the pool with the schedule.
func (env *testEnv) initialize(li LiquidityInfo, epochSize uint64, sqrtPriceX96 *big.Int) error {
	env.t.Helper()
	require.NoError(env.t, env.ledger.Mint(bootstrapCurrency(env.key, li.IsToken0), env.owner, li.TotalAmount))
	_, err := env.pm.Initialize(env.owner, env.key, sqrtPriceX96, EncodeInitPayload(li, epochSize))
	return err
}

func (env *testEnv) positionLiquidity(lower, upper int24) *big.Int {
	env.t.Helper()
	return env.pm.GetPosition(env.key, env.engine.addr, lower, upper).Liquidity
}

func (env *testEnv) poolTick() int24 {
	env.t.Helper()
	pool, err := env.pm.GetPool(env.key)
	require.NoError(env.t, err)
	return pool.Tick
}

// s2Schedule places liquidity entirely above the starting price.
func s2Schedule(t *testing.T) LiquidityInfo {
	return LiquidityInfo{
		TotalAmount: mustBig(t, "1000000000000000000000"),
		StartTime:   10000,
		EndTime:     10000 + 86400,
		MinTick:     10000,
		MaxTick:     20000,
		IsToken0:    true,
	}
}

// s3Schedule sits below the starting price, forcing internal sells.
func s3Schedule(t *testing.T, isToken0 bool) LiquidityInfo {
	return LiquidityInfo{
		TotalAmount: mustBig(t, "1000000000000000000000"),
		StartTime:   10000,
		EndTime:     10000 + 86400,
		MinTick:     0,
		MaxTick:     5000,
		IsToken0:    isToken0,
	}
}

// =========================================================================
// Scenario: out-of-range placement
// =========================================================================

func TestOutOfRangePlacement(t *testing.T) {
	env := newTestEnv(t, 1)
	env.clock = 9000
	require.NoError(t, env.initialize(s2Schedule(t), testEpochSize, sqrtRatio2To1))

	// Before the start time sync is inert.
	env.clock = 9999
	require.NoError(t, env.engine.Sync(env.key))
	pool, err := env.pm.GetPool(env.key)
	require.NoError(t, err)
	assert.Zero(t, pool.Liquidity.Sign(), "no liquidity should be placed before start")
	assert.Len(t, env.pm.positions, 0)

	// Mid-schedule the tranche lands above the current price.
	env.clock = 50000
	require.NoError(t, env.engine.Sync(env.key))
	assert.Equal(t, mustBig(t, "4878558521669597624372"), env.positionLiquidity(15741, 20000))
	assert.Equal(t, mustBig(t, "425925925925925925925"), env.engine.states[env.key.ID()].amountCommitted)

	// Past the end the full remainder moves to the widest range.
	env.clock = 10000 + 86400 + 3600
	require.NoError(t, env.engine.Sync(env.key))
	assert.Zero(t, env.positionLiquidity(15741, 20000).Sign())
	assert.Equal(t, mustBig(t, "4190272079389499705764"), env.positionLiquidity(10000, 20000))
	assert.Equal(t, mustBig(t, "1000000000000000000000"), env.engine.states[env.key.ID()].amountCommitted)
}

// =========================================================================
// Scenario: in-range forced sell
// =========================================================================

func TestInRangeForcedSell(t *testing.T) {
	env := newTestEnv(t, 1)
	env.clock = 9000
	require.NoError(t, env.initialize(s3Schedule(t, true), testEpochSize, sqrtRatio2To1))

	env.clock = 50000
	require.NoError(t, env.engine.Sync(env.key))
	assert.Equal(t, int24(2870), env.poolTick(), "forced sell should land just below the new floor")
	assert.Equal(t, mustBig(t, "4869217071209495223347"), env.positionLiquidity(2871, 5000))

	env.clock = 60000
	require.NoError(t, env.engine.Sync(env.key))
	assert.Equal(t, int24(2245), env.poolTick())
	assert.Zero(t, env.positionLiquidity(2871, 5000).Sign())
	assert.Equal(t, mustBig(t, "4791885898590874707175"), env.positionLiquidity(2246, 5000))
	assert.Equal(t, mustBig(t, "550925925925925925925"), env.engine.states[env.key.ID()].amountCommitted)
}

// =========================================================================
// Scenario: exit round-trip
// =========================================================================

func TestExitRoundTrip(t *testing.T) {
	env := newTestEnv(t, 1)
	env.clock = 9000
	li := s3Schedule(t, true)
	require.NoError(t, env.initialize(li, testEpochSize, sqrtRatio2To1))

	env.clock = 50000
	require.NoError(t, env.engine.Sync(env.key))

	// Premature and unauthorised exits surface their errors untouched.
	require.ErrorIs(t, env.engine.Exit(env.owner, env.key), ErrBeforeEndTime)
	env.clock = 10000 + 86400 + 3600
	require.ErrorIs(t, env.engine.Exit(env.trader, env.key), ErrUnauthorized)

	require.NoError(t, env.engine.Exit(env.owner, env.key))

	got := env.ledger.BalanceOf(env.key.Currency0, env.owner)
	loss := new(big.Int).Sub(li.TotalAmount, got)
	assert.True(t, loss.Sign() >= 0, "owner cannot receive more than committed")
	assert.True(t, loss.Cmp(big.NewInt(10)) <= 0,
		"round-trip loss %s exceeds 10 base units", loss)

	// The latch is permanent.
	require.ErrorIs(t, env.engine.Exit(env.owner, env.key), ErrExited)
	require.NoError(t, env.engine.Sync(env.key))
	assert.Zero(t, env.positionLiquidity(0, 5000).Sign())
}

// =========================================================================
// Scenario: mirrored orientation
// =========================================================================

func TestOrientationSymmetry(t *testing.T) {
	run := func(isToken0 bool) (*testEnv, []int24) {
		env := newTestEnv(t, 1)
		env.clock = 9000
		price := sqrtRatio2To1
		if !isToken0 {
			price = sqrtRatio1To2
		}
		require.NoError(t, env.initialize(s3Schedule(t, isToken0), testEpochSize, price))

		var minTicks []int24
		for _, ts := range []uint64{50000, 60000, 10000 + 86400 + 3600} {
			env.clock = ts
			require.NoError(t, env.engine.Sync(env.key))
			minTicks = append(minTicks, env.engine.states[env.key.ID()].currentMinTick)
		}
		return env, minTicks
	}

	env0, ticks0 := run(true)
	env1, ticks1 := run(false)

	// The canonical schedule is identical, so both runs commit the same
	// amounts and hold mirrored position ticks.
	assert.Equal(t, ticks0, ticks1)
	assert.Equal(t,
		env0.engine.states[env0.key.ID()].amountCommitted,
		env1.engine.states[env1.key.ID()].amountCommitted)

	for i, minTick := range ticks0 {
		lower0, upper0 := env0.engine.states[env0.key.ID()].positionTicks(minTick)
		lower1, upper1 := env1.engine.states[env1.key.ID()].positionTicks(ticks1[i])
		assert.Equal(t, lower0, -upper1, "mirrored lower/upper ticks")
		assert.Equal(t, upper0, -lower1, "mirrored upper/lower ticks")
	}

	lower1, upper1 := env1.engine.states[env1.key.ID()].positionTicks(ticks1[len(ticks1)-1])
	assert.Positive(t, env1.positionLiquidity(lower1, upper1).Sign())
}

func TestMirroredFullFlow(t *testing.T) {
	env := newTestEnv(t, 1)
	env.clock = 9000
	li := s3Schedule(t, false)
	require.NoError(t, env.initialize(li, testEpochSize, sqrtRatio1To2))

	// External liquidity around the starting price, before the start time.
	require.NoError(t, env.ledger.Mint(env.key.Currency0, env.router.addr, mustBig(t, "1000000000000000000000000")))
	require.NoError(t, env.ledger.Mint(env.key.Currency1, env.router.addr, mustBig(t, "1000000000000000000000000")))
	_, err := env.router.ModifyLiquidity(env.key, ModifyLiquidityParams{
		TickLower:      -7000,
		TickUpper:      -6800,
		LiquidityDelta: mustBig(t, "1000000000000000000"),
	})
	require.NoError(t, err)

	// Swaps both ways pre-start: the hook acknowledges without syncing.
	limitUp, err := sqrtRatioAtTick(-6850)
	require.NoError(t, err)
	_, err = env.router.Swap(env.key, SwapParams{
		ZeroForOne:        false,
		AmountSpecified:   big.NewInt(1_000_000_000_000_000),
		SqrtPriceLimitX96: limitUp,
	})
	require.NoError(t, err)
	limitDown, err := sqrtRatioAtTick(-6950)
	require.NoError(t, err)
	_, err = env.router.Swap(env.key, SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   big.NewInt(1_000_000_000_000_000),
		SqrtPriceLimitX96: limitDown,
	})
	require.NoError(t, err)
	assert.Len(t, env.engine.states[env.key.ID()].syncedEpochs, 0)

	// Mid-period sync force-sells upward through the external range.
	env.clock = 50000
	require.NoError(t, env.engine.Sync(env.key))
	state := env.engine.states[env.key.ID()]
	assert.Equal(t, int24(2871), state.currentMinTick)
	assert.Positive(t, env.positionLiquidity(-5000, -2871).Sign())

	// A host-initiated swap in the same epoch syncs idempotently.
	limitDown, err = sqrtRatioAtTick(-2875)
	require.NoError(t, err)
	_, err = env.router.Swap(env.key, SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   big.NewInt(1_000_000_000_000_000),
		SqrtPriceLimitX96: limitDown,
	})
	require.NoError(t, err)
	assert.Equal(t, int24(2871), state.currentMinTick)

	// Final sync and exit.
	env.clock = 10000 + 86400 + 3600
	require.NoError(t, env.engine.Sync(env.key))
	require.NoError(t, env.engine.Exit(env.owner, env.key))

	assert.Positive(t, env.ledger.BalanceOf(env.key.Currency1, env.owner).Sign())
	assert.True(t, state.exited)
}

// =========================================================================
// Scenario: invalid configs reject at init
// =========================================================================

func TestInitRejections(t *testing.T) {
	valid := func(t *testing.T) LiquidityInfo {
		return LiquidityInfo{
			TotalAmount: mustBig(t, "1000000000000000000000"),
			StartTime:   10000,
			EndTime:     10000 + 86400,
			MinTick:     -6000,
			MaxTick:     6000,
			IsToken0:    true,
		}
	}

	tests := []struct {
		name      string
		spacing   int24
		mutate    func(li *LiquidityInfo)
		epochSize uint64
		wantErr   error
	}{
		{"start after end", 60, func(li *LiquidityInfo) { li.StartTime = li.EndTime + 1 }, testEpochSize, ErrInvalidTimeRange},
		{"end before now", 60, func(li *LiquidityInfo) { li.EndTime = 100; li.StartTime = 50 }, testEpochSize, ErrInvalidTimeRange},
		{"min above max", 60, func(li *LiquidityInfo) { li.MinTick = 7000 }, testEpochSize, ErrInvalidTickRange},
		{"min below usable", 60, func(li *LiquidityInfo) { li.MinTick = -887272 }, testEpochSize, ErrInvalidTickRange},
		{"max above usable", 60, func(li *LiquidityInfo) { li.MaxTick = 887272 }, testEpochSize, ErrInvalidTickRange},
		{"zero epoch size", 60, func(li *LiquidityInfo) {}, 0, ErrInvalidTimeRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.spacing)
			env.clock = 9000
			li := valid(t)
			tt.mutate(&li)

			err := env.initialize(li, tt.epochSize, sqrtRatio2To1)
			require.ErrorIs(t, err, tt.wantErr)

			// No state persists on either side of the hook boundary.
			_, err = env.pm.GetPool(env.key)
			assert.ErrorIs(t, err, ErrPoolNotInitialized)
			assert.ErrorIs(t, env.engine.Sync(env.key), ErrPoolNotInitialized)
		})
	}
}

// =========================================================================
// Universal invariants
// =========================================================================

func TestEpochIdempotence(t *testing.T) {
	env := newTestEnv(t, 1)
	env.clock = 9000
	require.NoError(t, env.initialize(s3Schedule(t, true), testEpochSize, sqrtRatio2To1))

	env.clock = 50000
	require.NoError(t, env.engine.Sync(env.key))

	state := env.engine.states[env.key.ID()]
	committed := new(big.Int).Set(state.amountCommitted)
	minTick := state.currentMinTick
	tick := env.poolTick()
	liquidity := new(big.Int).Set(env.positionLiquidity(2871, 5000))

	// Same epoch, different timestamps: all are no-ops.
	for _, ts := range []uint64{50000, 50001, 46800 + testEpochSize - 1} {
		env.clock = ts
		require.NoError(t, env.engine.Sync(env.key))
		assert.Equal(t, committed, state.amountCommitted)
		assert.Equal(t, minTick, state.currentMinTick)
		assert.Equal(t, tick, env.poolTick())
		assert.Equal(t, liquidity, env.positionLiquidity(2871, 5000))
	}
}

func TestMonotoneCommitmentAndRange(t *testing.T) {
	env := newTestEnv(t, 1)
	env.clock = 9000
	li := s2Schedule(t)
	require.NoError(t, env.initialize(li, testEpochSize, sqrtRatio2To1))

	state := env.engine.states[env.key.ID()]
	lastCommitted := big.NewInt(0)
	lastMinTick := li.MaxTick

	for ts := uint64(10000); ts <= uint64(li.EndTime)+2*testEpochSize; ts += 7313 {
		env.clock = ts
		require.NoError(t, env.engine.Sync(env.key))

		if state.amountCommitted.Cmp(lastCommitted) < 0 {
			t.Fatalf("commitment regressed at t=%d: %s < %s", ts, state.amountCommitted, lastCommitted)
		}
		if state.amountCommitted.Cmp(li.TotalAmount) > 0 {
			t.Fatalf("commitment exceeds total at t=%d: %s", ts, state.amountCommitted)
		}
		if state.currentMinTick > lastMinTick {
			t.Fatalf("min tick regressed at t=%d: %d > %d", ts, state.currentMinTick, lastMinTick)
		}
		lastCommitted = new(big.Int).Set(state.amountCommitted)
		lastMinTick = state.currentMinTick
	}

	assert.Equal(t, li.MinTick, state.currentMinTick)
	assert.Equal(t, li.TotalAmount, state.amountCommitted)
}

func TestReentrancyShortCircuit(t *testing.T) {
	env := newTestEnv(t, 1)
	env.clock = 9000
	require.NoError(t, env.initialize(s3Schedule(t, true), testEpochSize, sqrtRatio2To1))

	env.clock = 50000
	state := env.engine.states[env.key.ID()]
	state.inSwap = true

	sel, err := env.engine.BeforeSwap(env.trader, env.key, SwapParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, SigBeforeSwap, sel)
	assert.Len(t, state.syncedEpochs, 0, "guarded callback must not sync")
	assert.Zero(t, state.amountCommitted.Sign())

	state.inSwap = false
	require.NoError(t, env.engine.Sync(env.key))
	assert.Len(t, state.syncedEpochs, 1)
}

func TestSyncUnknownPool(t *testing.T) {
	env := newTestEnv(t, 1)
	require.ErrorIs(t, env.engine.Sync(env.key), ErrPoolNotInitialized)
	require.ErrorIs(t, env.engine.Exit(env.owner, env.key), ErrPoolNotInitialized)
}
