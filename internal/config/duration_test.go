package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90m", 90 * time.Minute},
		{"720h", 720 * time.Hour},
		{"1d", day},
		{" 3d ", 3 * day},
		{"1d12h", day + 12*time.Hour},
		{"2w", 2 * week},
		{"1w2d", week + 2*day},
		{"1w2d3h4m5s", week + 2*day + 3*time.Hour + 4*time.Minute + 5*time.Second},
		{"0s", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}

	for _, bad := range []string{"", "   ", "soon", "3y", "1w-"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestDuration_String(t *testing.T) {
	tests := []struct {
		d    Duration
		want string
	}{
		{0, "0s"},
		{Duration(week), "1w"},
		{Duration(2*week + day), "2w1d"},
		{Duration(36 * time.Hour), "1d12h0m0s"},
		{Duration(90 * time.Second), "1m30s"},
		{Duration(-day), "-1d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.d.String())
	}
}

func TestDuration_StringParsesBack(t *testing.T) {
	for _, d := range []Duration{Duration(week), Duration(3*week + 2*day + 5*time.Minute), Duration(45 * time.Second)} {
		back, err := ParseDuration(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, back)
	}
}

func TestDuration_JSON(t *testing.T) {
	var holder struct {
		Retention Duration `json:"retention"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"retention":"1w"}`), &holder))
	assert.Equal(t, week, holder.Retention.Duration())

	// Bare numbers are nanoseconds, as encoding/json writes time.Duration.
	require.NoError(t, json.Unmarshal([]byte(`{"retention":60000000000}`), &holder))
	assert.Equal(t, time.Minute, holder.Retention.Duration())

	assert.Error(t, json.Unmarshal([]byte(`{"retention":"later"}`), &holder))
	assert.Error(t, json.Unmarshal([]byte(`{"retention":true}`), &holder))

	holder.Retention = Duration(2 * day)
	out, err := json.Marshal(holder)
	require.NoError(t, err)
	assert.JSONEq(t, `{"retention":"2d"}`, string(out))
}

func TestDuration_YAML(t *testing.T) {
	var holder struct {
		Retention Duration `yaml:"retention"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("retention: 2w\n"), &holder))
	assert.Equal(t, 2*week, holder.Retention.Duration())

	out, err := yaml.Marshal(holder)
	require.NoError(t, err)
	assert.Equal(t, "retention: 2w\n", string(out))
}
