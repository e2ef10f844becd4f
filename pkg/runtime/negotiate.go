package runtime

import (
	"errors"

	"github.com/kunal/gpu-plugin-runtime/pkg/plugin"
)

// ErrNoSupportedFormat reports a pipeline with no (type, format)
// combination every stage accepts.
var ErrNoSupportedFormat = errors.New("runtime: no (type, format) combination supported by every pipeline stage")

type formatCandidate struct {
	dtype  plugin.DataType
	format plugin.Format
}

// defaultCandidates are the combinations offered during negotiation.
var defaultCandidates = []formatCandidate{
	{plugin.Float16, plugin.FormatNCHW},
	{plugin.Float32, plugin.FormatNCHW},
	{plugin.Int8, plugin.FormatNHWC8},
	{plugin.Int8, plugin.FormatNCHW},
}

// scoreCandidate rates one combination for a pipeline. Combinations any
// stage refuses are out; among the rest, narrower elements score higher
// (memory headroom) and the linear layout gets a bonus (no repacking on
// the way in or out).
func scoreCandidate(c formatCandidate, ops []plugin.Op) float64 {
	for _, op := range ops {
		if !op.SupportsFormat(c.dtype, c.format) {
			return -1000
		}
	}

	score := 100.0 / float64(c.dtype.Size())
	if c.format == plugin.FormatNCHW {
		score += 50
	}
	return score
}

// negotiateFormat picks the best-scoring combination every stage supports.
// SupportsFormat is always consulted before any stage is configured.
func negotiateFormat(ops []plugin.Op, candidates []formatCandidate) (plugin.DataType, plugin.Format, error) {
	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		s := scoreCandidate(c, ops)
		if s < 0 {
			continue
		}
		if best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return 0, 0, ErrNoSupportedFormat
	}
	return candidates[best].dtype, candidates[best].format, nil
}
