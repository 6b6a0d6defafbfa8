package retention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPolicy() Policy {
	return Policy{
		RetentionDays:       90,
		ArchiveAfterDays:    30,
		CompressAfterDays:   7,
		MaxLogSizeMB:        1000,
		BackupIntervalHours: 24,
	}
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, validPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero retention", func(p *Policy) { p.RetentionDays = 0 }},
		{"zero archive", func(p *Policy) { p.ArchiveAfterDays = 0 }},
		{"archive beyond retention", func(p *Policy) { p.ArchiveAfterDays = p.RetentionDays + 1 }},
		{"zero compress", func(p *Policy) { p.CompressAfterDays = 0 }},
		{"zero size limit", func(p *Policy) { p.MaxLogSizeMB = 0 }},
		{"zero backup interval", func(p *Policy) { p.BackupIntervalHours = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestArchiveEqualToRetentionAllowed(t *testing.T) {
	p := validPolicy()
	p.ArchiveAfterDays = p.RetentionDays
	assert.NoError(t, p.Validate())
}
