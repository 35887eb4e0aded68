package risk

import (
	"fmt"
)

// AdmissionRequest describes the position a signal wants to open.
type AdmissionRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Playbook string  `json:"playbook"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

func (r AdmissionRequest) Notional() float64 {
	return r.Quantity * r.Price
}

// AdmissionInputs is the account picture the checks run against,
// gathered by the engine at evaluation time.
type AdmissionInputs struct {
	Status          string
	HaltReason      string
	Equity          float64
	OpenPositions   int
	OpenNotional    float64
	OpenRiskR       float64
	AvailableQuote  float64
	StopDistancePct float64
}

// Decision is the admission verdict. Every failed check is reported,
// not just the first, so an operator sees the whole picture.
type Decision struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

// EvaluateAdmission runs the full gate against one candidate
// position. Pure function: no I/O, no state.
func EvaluateAdmission(req AdmissionRequest, in AdmissionInputs, cfg Config) Decision {
	var violations []string
	notional := req.Notional()
	currentR := in.Equity * cfg.RPct

	if in.Status != StatusActive {
		violations = append(violations, fmt.Sprintf("blocked: status %s (%s)", in.Status, in.HaltReason))
	}

	if req.Quantity <= 0 || req.Price <= 0 {
		violations = append(violations, fmt.Sprintf("order: non-positive size %.8f @ %.8f", req.Quantity, req.Price))
	}

	if in.OpenPositions >= cfg.MaxPositions {
		violations = append(violations, fmt.Sprintf("max_positions: %d open, limit %d", in.OpenPositions, cfg.MaxPositions))
	}

	if in.Equity <= 0 {
		violations = append(violations, "equity: non-positive, cannot size new risk")
	} else {
		exposure := (in.OpenNotional + notional) / in.Equity
		if exposure > cfg.MaxExposurePct {
			violations = append(violations, fmt.Sprintf("max_exposure_pct: %.1f%% would exceed %.1f%%", exposure*100, cfg.MaxExposurePct*100))
		}

		reserve := (in.Equity - in.OpenNotional - notional) / in.Equity
		if reserve < cfg.ReserveFloorPct {
			violations = append(violations, fmt.Sprintf("reserve: %.1f%% would breach floor %.1f%%", reserve*100, cfg.ReserveFloorPct*100))
		}

		if currentR > 0 && in.StopDistancePct > 0 {
			newRiskR := notional * in.StopDistancePct / currentR
			if in.OpenRiskR+newRiskR > cfg.MaxOpenR {
				violations = append(violations, fmt.Sprintf("max_open_r: %.2fR open + %.2fR new exceeds %.2fR", in.OpenRiskR, newRiskR, cfg.MaxOpenR))
			}
		}
	}

	if in.AvailableQuote < notional {
		violations = append(violations, fmt.Sprintf("funding: %.2f available, %.2f required", in.AvailableQuote, notional))
	}

	return Decision{Allowed: len(violations) == 0, Violations: violations}
}
