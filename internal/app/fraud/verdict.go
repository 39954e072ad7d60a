package fraud

import (
	"fmt"

	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/model"
)

// verdict accumulates rule hits for a single subject.
type verdict struct {
	score int
	flags []model.FraudFlag
}

func newVerdict() *verdict {
	return &verdict{flags: []model.FraudFlag{}}
}

func (v *verdict) add(weight int, flagType string, severity model.FraudSeverity, format string, args ...any) {
	v.score += weight
	v.flags = append(v.flags, model.FraudFlag{
		Type:        flagType,
		Description: fmt.Sprintf(format, args...),
		Severity:    severity,
	})
}

func (v *verdict) result(cfg config.FraudConfig) model.FraudResult {
	score := v.score
	if score > maxScore {
		score = maxScore
	}
	return model.FraudResult{
		IsSuspicious: len(v.flags) > 0,
		Flags:        v.flags,
		Score:        score,
		Action:       actionFor(score, cfg),
	}
}

func actionFor(score int, cfg config.FraudConfig) model.FraudAction {
	switch {
	case score >= cfg.BlockThreshold:
		return model.FraudActionBlock
	case score >= cfg.FlagThreshold:
		return model.FraudActionFlag
	default:
		return model.FraudActionAllow
	}
}
