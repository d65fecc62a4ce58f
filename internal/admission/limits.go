package admission

import "encoding/json"

// Limits are the per-organization execution limits relevant to admission,
// drawn from the organization's plan with per-organization overrides layered
// on top (spec §3: Organization "owns a plan with limits").
type Limits struct {
	MaxConcurrentExecutions int32 `json:"maxConcurrentExecutions"`
	MaxExecutionsPerMinute  int32 `json:"maxExecutionsPerMinute"`
}

// planDefaults are the baseline limits per plan tier. An organization's
// stored config may override either field.
var planDefaults = map[string]Limits{
	"trial":      {MaxConcurrentExecutions: 2, MaxExecutionsPerMinute: 30},
	"free":       {MaxConcurrentExecutions: 2, MaxExecutionsPerMinute: 30},
	"pro":        {MaxConcurrentExecutions: 10, MaxExecutionsPerMinute: 300},
	"enterprise": {MaxConcurrentExecutions: 50, MaxExecutionsPerMinute: 3000},
}

// ResolveLimits computes the effective limits for an organization: the
// plan's defaults, with any fields present in config overriding them.
func ResolveLimits(plan string, config json.RawMessage) Limits {
	limits, ok := planDefaults[plan]
	if !ok {
		limits = planDefaults["free"]
	}

	if len(config) == 0 {
		return limits
	}

	var override struct {
		Limits *Limits `json:"limits"`
	}
	if err := json.Unmarshal(config, &override); err != nil || override.Limits == nil {
		return limits
	}

	if override.Limits.MaxConcurrentExecutions > 0 {
		limits.MaxConcurrentExecutions = override.Limits.MaxConcurrentExecutions
	}
	if override.Limits.MaxExecutionsPerMinute > 0 {
		limits.MaxExecutionsPerMinute = override.Limits.MaxExecutionsPerMinute
	}
	return limits
}
