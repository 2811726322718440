package models

// MetricName identifies one of the world metrics.
type MetricName string

const (
	MetricChaos   MetricName = "chaos"
	MetricMagic   MetricName = "magic"
	MetricTension MetricName = "tension"
	MetricHealth  MetricName = "health"
)

// MetricNames lists metrics in their canonical order.
var MetricNames = []MetricName{MetricChaos, MetricMagic, MetricTension, MetricHealth}

const (
	MetricMin = 0.0
	MetricMax = 100.0
)

// Metrics are the world-level gauges, each within [MetricMin, MetricMax].
type Metrics struct {
	Chaos   float64 `json:"chaos"`
	Magic   float64 `json:"magic"`
	Tension float64 `json:"tension"`
	Health  float64 `json:"health"`
}

// DefaultMetrics is used for worlds seeded without explicit metrics.
func DefaultMetrics() Metrics {
	return Metrics{Chaos: 30, Magic: 40, Tension: 20, Health: 70}
}

// Get returns the value of the named metric.
func (m Metrics) Get(name MetricName) (float64, bool) {
	switch name {
	case MetricChaos:
		return m.Chaos, true
	case MetricMagic:
		return m.Magic, true
	case MetricTension:
		return m.Tension, true
	case MetricHealth:
		return m.Health, true
	}
	return 0, false
}

// Set assigns the named metric. Unknown names report false.
func (m *Metrics) Set(name MetricName, v float64) bool {
	switch name {
	case MetricChaos:
		m.Chaos = v
	case MetricMagic:
		m.Magic = v
	case MetricTension:
		m.Tension = v
	case MetricHealth:
		m.Health = v
	default:
		return false
	}
	return true
}

// ClampRecord documents a metric adjustment that was cut at a bound.
type ClampRecord struct {
	Metric    MetricName `json:"metric"`
	Requested float64    `json:"requested"`
	Applied   float64    `json:"applied"`
}

// PlayerStat is a personal trait of a player character, within [StatMin, StatMax].
type PlayerStat string

const (
	StatCourage PlayerStat = "courage"
	StatEmpathy PlayerStat = "empathy"
	StatCunning PlayerStat = "cunning"
)

// PlayerStats lists player stats in their canonical order.
var PlayerStats = []PlayerStat{StatCourage, StatEmpathy, StatCunning}

// IsValid reports whether s is a known stat.
func (s PlayerStat) IsValid() bool {
	for _, known := range PlayerStats {
		if s == known {
			return true
		}
	}
	return false
}

const (
	StatMin          = 0
	StatMax          = 100
	DefaultStatValue = 50
	DefaultLoyalty   = 50
)

// DefaultPlayerStats returns the stats of a newly joined player.
func DefaultPlayerStats() map[PlayerStat]int {
	stats := make(map[PlayerStat]int, len(PlayerStats))
	for _, s := range PlayerStats {
		stats[s] = DefaultStatValue
	}
	return stats
}
