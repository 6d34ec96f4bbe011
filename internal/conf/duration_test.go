package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Duration
		wantErr bool
	}{
		{"go duration", "15m", Duration(15 * time.Minute), false},
		{"compound", "1h30m", Duration(90 * time.Minute), false},
		{"days", "7d", Duration(7 * 24 * time.Hour), false},
		{"bare seconds", "300", Duration(300 * time.Second), false},
		{"empty", "", 0, false},
		{"negative days", "-1d", 0, true},
		{"garbage", "soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDuration(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	type doc struct {
		Cooldown Duration `json:"cooldown"`
	}

	b, err := json.Marshal(doc{Cooldown: Duration(5 * time.Minute)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cooldown":"5m0s"}`, string(b))

	var fromString doc
	require.NoError(t, json.Unmarshal([]byte(`{"cooldown":"10m"}`), &fromString))
	assert.Equal(t, Duration(10*time.Minute), fromString.Cooldown)

	var fromNumber doc
	require.NoError(t, json.Unmarshal([]byte(`{"cooldown":90}`), &fromNumber))
	assert.Equal(t, Duration(90*time.Second), fromNumber.Cooldown, "numbers are seconds")

	fromNull := doc{Cooldown: Duration(time.Minute)}
	require.NoError(t, json.Unmarshal([]byte(`{"cooldown":null}`), &fromNull))
	assert.Zero(t, fromNull.Cooldown)

	var bad doc
	assert.Error(t, json.Unmarshal([]byte(`{"cooldown":true}`), &bad))
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	t.Parallel()

	type doc struct {
		Retention Duration `yaml:"retention"`
	}

	b, err := yaml.Marshal(doc{Retention: Duration(48 * time.Hour)})
	require.NoError(t, err)
	assert.Contains(t, string(b), "48h0m0s")

	var back doc
	require.NoError(t, yaml.Unmarshal(b, &back))
	assert.Equal(t, Duration(48*time.Hour), back.Retention)

	var days doc
	require.NoError(t, yaml.Unmarshal([]byte("retention: 30d"), &days))
	assert.Equal(t, Duration(30*24*time.Hour), days.Retention)

	var seq doc
	assert.Error(t, yaml.Unmarshal([]byte("retention: [1, 2]"), &seq))
}
