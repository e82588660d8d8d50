package consensus

import (
	"errors"
	"time"

	"trustnet/internal/network/models"
)

// Params are the Proof-of-Trust constants.
type Params struct {
	MinValidators  int           `json:"min_validators"`
	MaxValidators  int           `json:"max_validators"`
	QuorumPct      int           `json:"quorum_pct"`
	RoundTimeout   time.Duration `json:"-"`
	RoundTimeoutMs int64         `json:"round_timeout_ms"`
	SlashThreshold int           `json:"slash_threshold"`
	RewardPerRound float64       `json:"reward_per_round"`
	SlashPerFail   float64       `json:"slash_per_failure"`
}

// DefaultParams returns the reference parameters. Three validators is the smallest
// set that tolerates one faulty voter under a 2f+1 quorum.
func DefaultParams() Params {
	return Params{
		MinValidators:  3,
		MaxValidators:  7,
		QuorumPct:      67,
		RoundTimeout:   5 * time.Second,
		RoundTimeoutMs: 5000,
		SlashThreshold: 3,
		RewardPerRound: 0.01,
		SlashPerFail:   0.05,
	}
}

// Validate rejects parameter sets the algorithm cannot run with.
func (p *Params) Validate() error {
	var errs []error
	if p.MinValidators < 1 {
		errs = append(errs, errors.New("min_validators must be at least 1"))
	}
	if p.MaxValidators < p.MinValidators {
		errs = append(errs, errors.New("max_validators must be >= min_validators"))
	}
	if p.QuorumPct <= 0 || p.QuorumPct > 100 {
		errs = append(errs, errors.New("quorum_pct must be in (0,100]"))
	}
	if p.RoundTimeout <= 0 {
		errs = append(errs, errors.New("round_timeout must be positive"))
	}
	if p.RewardPerRound < 0 || p.SlashPerFail < 0 {
		errs = append(errs, errors.New("reward and penalty must not be negative"))
	}
	p.RoundTimeoutMs = p.RoundTimeout.Milliseconds()
	return errors.Join(errs...)
}

func (p Params) adjustment() models.ScoreAdjustment {
	return models.ScoreAdjustment{
		Reward:         p.RewardPerRound,
		Penalty:        p.SlashPerFail,
		SlashThreshold: p.SlashThreshold,
	}
}
