package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestParseGroupID tests store key parsing
func TestParseGroupID(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    GroupID
		wantErr bool
	}{
		{name: "plain digits", key: "123456", want: 123456},
		{name: "zero", key: "0", want: 0},
		{name: "empty", key: "", wantErr: true},
		{name: "letters", key: "abc", wantErr: true},
		{name: "negative sign", key: "-12", wantErr: true},
		{name: "mixed", key: "12a", wantErr: true},
		{name: "leading zeros", key: "007", wantErr: true},
		{name: "zero padded zero", key: "00", wantErr: true},
		{name: "overflow", key: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGroupID(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestJobNameRoundTrip tests the key <-> job name mapping
func TestJobNameRoundTrip(t *testing.T) {
	assert.Equal(t, "summary_group_42", JobName("42"))
	assert.Equal(t, "summary_group_42", GroupJobName(42))

	key, ok := KeyFromJobName("summary_group_42")
	assert.True(t, ok)
	assert.Equal(t, "42", key)

	_, ok = KeyFromJobName("check_health_job")
	assert.False(t, ok)
}

func TestGroupSecond(t *testing.T) {
	assert.Equal(t, 0, GroupID(120).Second())
	assert.Equal(t, 7, GroupID(67).Second())
	assert.Equal(t, 53, GroupID(-67).Second())
}

// TestGroupConfigValidate tests schedule validation
func TestGroupConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *GroupConfig
		wantErr bool
	}{
		{name: "valid", cfg: &GroupConfig{Hour: 23, Minute: 59, LeastMessageCount: 1}},
		{name: "nil", cfg: nil, wantErr: true},
		{name: "hour too large", cfg: &GroupConfig{Hour: 24, LeastMessageCount: 1}, wantErr: true},
		{name: "negative minute", cfg: &GroupConfig{Minute: -1, LeastMessageCount: 1}, wantErr: true},
		{name: "zero message count", cfg: &GroupConfig{Hour: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
