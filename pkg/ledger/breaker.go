package ledger

import "errors"

// ErrMintingHalted is returned when the Global Integrity Index is below the halt threshold
var ErrMintingHalted = errors.New("MIC minting halted: global integrity index below safe threshold")

// ErrRewardSuspended is returned for table rewards in the degraded band, where the multiplier is zero
var ErrRewardSuspended = errors.New("rewards for this source are suspended while integrity is degraded")

// Breaker states
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
	StatusDegraded = "degraded"
	StatusHalted   = "halted"
)

// Thresholds are the GII bands, highest first
type Thresholds struct {
	Healthy  float64 `json:"healthy"`
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
	Halt     float64 `json:"halt"`
}

// DefaultThresholds are the production GII bands
var DefaultThresholds = Thresholds{Healthy: 0.90, Warning: 0.75, Critical: 0.60, Halt: 0.50}

// CircuitBreaker scales or stops positive minting by the Global Integrity Index
type CircuitBreaker struct {
	Thresholds Thresholds
	GII        float64
}

// Halted reports whether positive minting is refused
func (b CircuitBreaker) Halted() bool {
	return b.GII < b.Thresholds.Halt
}

// Multiplier returns the reward multiplier for the current GII
func (b CircuitBreaker) Multiplier() float64 {
	switch {
	case b.GII >= b.Thresholds.Healthy:
		return 1.0
	case b.GII >= b.Thresholds.Warning:
		return 0.8
	case b.GII >= b.Thresholds.Critical:
		return 0.5
	default:
		return 0
	}
}

// Status names the band the GII falls in
func (b CircuitBreaker) Status() string {
	switch {
	case b.GII >= b.Thresholds.Healthy:
		return StatusHealthy
	case b.GII >= b.Thresholds.Warning:
		return StatusWarning
	case b.GII >= b.Thresholds.Critical:
		return StatusCritical
	case b.GII >= b.Thresholds.Halt:
		return StatusDegraded
	default:
		return StatusHalted
	}
}
