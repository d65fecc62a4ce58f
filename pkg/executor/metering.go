package executor

// Metering accumulates usage across an execution's node invocations (spec
// §4.6 step 7).
type Metering struct {
	APICallsMade  int32
	TokensUsed    int32
	DataProcessed int64
	Cost          float64
}

// Add folds other into m.
func (m *Metering) Add(other Metering) {
	m.APICallsMade += other.APICallsMade
	m.TokensUsed += other.TokensUsed
	m.DataProcessed += other.DataProcessed
	m.Cost += other.Cost
}

// meteringFromMetadata extracts metering fields a connector reported on a
// successful Result.Metadata (apiCallsMade, tokensUsed, dataProcessed,
// cost). Connectors that report nothing contribute a zero Metering.
func meteringFromMetadata(meta map[string]any) Metering {
	var m Metering
	if meta == nil {
		return m
	}
	m.APICallsMade = toInt32(meta["apiCallsMade"])
	m.TokensUsed = toInt32(meta["tokensUsed"])
	m.DataProcessed = toInt64(meta["dataProcessed"])
	m.Cost = toFloat64(meta["cost"])
	return m
}

func toInt32(v any) int32 {
	switch t := v.(type) {
	case float64:
		return int32(t)
	case int:
		return int32(t)
	case int32:
		return t
	case int64:
		return int32(t)
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}
