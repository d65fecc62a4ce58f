package executor

import "testing"

func TestMetering_Add(t *testing.T) {
	m := Metering{APICallsMade: 1, TokensUsed: 10, DataProcessed: 100, Cost: 0.5}
	m.Add(Metering{APICallsMade: 2, TokensUsed: 20, DataProcessed: 200, Cost: 1.5})

	want := Metering{APICallsMade: 3, TokensUsed: 30, DataProcessed: 300, Cost: 2.0}
	if m != want {
		t.Errorf("Add result = %+v, want %+v", m, want)
	}
}

func TestMeteringFromMetadata_NilYieldsZero(t *testing.T) {
	if got := meteringFromMetadata(nil); got != (Metering{}) {
		t.Errorf("meteringFromMetadata(nil) = %+v, want zero value", got)
	}
}

func TestMeteringFromMetadata_JSONDecodedNumbers(t *testing.T) {
	// Values arriving through json.Unmarshal into map[string]any decode as
	// float64 regardless of whether the source literal was an integer.
	meta := map[string]any{
		"apiCallsMade":  float64(3),
		"tokensUsed":    float64(150),
		"dataProcessed": float64(4096),
		"cost":          float64(0.042),
	}
	got := meteringFromMetadata(meta)
	want := Metering{APICallsMade: 3, TokensUsed: 150, DataProcessed: 4096, Cost: 0.042}
	if got != want {
		t.Errorf("meteringFromMetadata = %+v, want %+v", got, want)
	}
}

func TestMeteringFromMetadata_MissingFieldsDefaultToZero(t *testing.T) {
	got := meteringFromMetadata(map[string]any{"cost": float64(1.25)})
	want := Metering{Cost: 1.25}
	if got != want {
		t.Errorf("meteringFromMetadata = %+v, want %+v", got, want)
	}
}

func TestToInt32_UnrecognizedTypeDefaultsZero(t *testing.T) {
	if got := toInt32("not a number"); got != 0 {
		t.Errorf("toInt32(string) = %d, want 0", got)
	}
}
