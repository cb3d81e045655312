package kvengine

import (
	"log/slog"

	"github.com/gsauere/kv-engine/ds"
)

const (
	defaultInitialSize    int     = 47
	defaultDecayPercent   int     = 50
	defaultPagerPercent   float64 = 10
	defaultVisitBudget    int     = 1024
	defaultCasGeneratorID int64   = -1
)

type TableConfig struct {
	InitialSize          int     `json:"initial_size"`            // Bucket count at creation and lower bound of auto resize, default 47.
	NumLocks             int     `json:"num_locks"`               // Shard locks shared by all buckets, default 47.
	FreqCounterIncFactor float64 `json:"freq_counter_inc_factor"` // Increment factor of the frequency counter.

	// Eligible decides whether a slot may be ejected. Defaults to
	// DefaultEligibility.
	Eligible EligibilityFunc `json:"-"`
	// Factory builds slots. Defaults to DefaultSlotFactory.
	Factory SlotFactory  `json:"-"`
	Logger  *slog.Logger `json:"-"`
}

func DefaultTableConfig() TableConfig {
	return TableConfig{
		InitialSize:          defaultInitialSize,
		NumLocks:             ds.DefaultLockCount,
		FreqCounterIncFactor: DefaultFreqCounterIncFactor,
		Eligible:             DefaultEligibility,
		Factory:              DefaultSlotFactory{},
		Logger:               slog.Default(),
	}
}

func (cfg *TableConfig) withDefaults() TableConfig {
	c := *cfg
	if c.InitialSize <= 0 {
		c.InitialSize = defaultInitialSize
	}
	if c.NumLocks <= 0 {
		c.NumLocks = ds.DefaultLockCount
	}
	if c.FreqCounterIncFactor <= 0 {
		c.FreqCounterIncFactor = DefaultFreqCounterIncFactor
	}
	if c.Eligible == nil {
		c.Eligible = DefaultEligibility
	}
	if c.Factory == nil {
		c.Factory = DefaultSlotFactory{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type PartitionConfig struct {
	Table TableConfig `json:"table"`

	CasNodeID       int64          `json:"cas_node_id"`      // Snowflake node for CAS values, negative picks one at random.
	DecayPercent    int            `json:"decay_percent"`    // Frequency counters are scaled to this percentage on decay.
	PagerPercentile float64        `json:"pager_percentile"` // Counters at or below this percentile are ejected by the pager.
	VisitBudget     int            `json:"visit_budget"`     // Slots a background visitor handles before it pauses.
	EvictionPolicy  EvictionPolicy `json:"eviction_policy"`
}

func DefaultPartitionConfig() PartitionConfig {
	return PartitionConfig{
		Table:           DefaultTableConfig(),
		CasNodeID:       defaultCasGeneratorID,
		DecayPercent:    defaultDecayPercent,
		PagerPercentile: defaultPagerPercent,
		VisitBudget:     defaultVisitBudget,
		EvictionPolicy:  EvictValue,
	}
}
