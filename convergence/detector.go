package convergence

import (
	"fmt"
	"math"

	"github.com/BaSui01/hrmflow/types"
)

// Decision is the loop detector's verdict after an iteration.
type Decision struct {
	Converged   bool    `json:"converged"`
	Confidence  float64 `json:"confidence"`
	Stability   float64 `json:"stability"`
	SuccessRate float64 `json:"success_rate"`
	Iteration   int     `json:"iteration"`
	Reason      string  `json:"reason"`
}

// Detector decides when the orchestration loop should stop iterating.
type Detector struct {
	Threshold     float64
	MaxIterations int
	// Window is how many trailing confidences are considered.
	Window int
}

// NewDetector returns a detector with threshold 0.75, 3 iterations and a window of 3.
func NewDetector() *Detector {
	return &Detector{Threshold: 0.75, MaxIterations: 3, Window: 3}
}

// Check scores the accumulated results of the given 1-based iteration.
//
// score = 0.4·avg(window) + 0.3·stability(window) + 0.3·successRate(all)
func (d *Detector) Check(results []types.ToolResult, iteration int) Decision {
	if len(results) < 2 {
		return Decision{Iteration: iteration, Reason: "Insufficient data"}
	}

	window := d.Window
	if window <= 0 {
		window = 3
	}
	start := len(results) - window
	if start < 0 {
		start = 0
	}
	confs := make([]float64, 0, window)
	for _, r := range results[start:] {
		confs = append(confs, r.Confidence)
	}

	avg := mean(confs)
	stability := 1.0
	if len(confs) > 1 {
		diffs := make([]float64, 0, len(confs)-1)
		for i := 1; i < len(confs); i++ {
			diffs = append(diffs, math.Abs(confs[i]-confs[i-1]))
		}
		stability = 1 - mean(diffs)
	}
	success := types.SuccessRate(results)
	score := 0.4*avg + 0.3*stability + 0.3*success

	return Decision{
		Converged:   score > d.Threshold || iteration >= d.MaxIterations,
		Confidence:  score,
		Stability:   stability,
		SuccessRate: success,
		Iteration:   iteration,
		Reason:      fmt.Sprintf("Score: %.2f, Iteration: %d", score, iteration),
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev is the n-1 standard deviation; 0 for fewer than two values.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
