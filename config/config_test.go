package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/scuttle/token"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateInactivityThresholdRange(t *testing.T) {
	tests := []struct {
		name      string
		threshold time.Duration
		wantErr   bool
	}{
		{"below minimum", 12 * time.Hour, true},
		{"at minimum", 24 * time.Hour, false},
		{"typical", 7 * 24 * time.Hour, false},
		{"at maximum", 14 * 24 * time.Hour, false},
		{"above maximum", 15 * 24 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Inactivity.Threshold = tt.threshold
			c.Inactivity.WarningLeadTime = time.Hour

			err := c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateReauthIntervalSteps(t *testing.T) {
	c := Default()

	c.Reauth.Threshold = 36 * time.Hour
	assert.ErrorIs(t, c.Validate(), ErrInvalid, "interval must land on a 24h step")

	c.Reauth.Threshold = 48 * time.Hour
	assert.NoError(t, c.Validate())

	c.Reauth.Threshold = 192 * time.Hour
	assert.ErrorIs(t, c.Validate(), ErrInvalid)
}

func TestValidateWarningLeadMustBeBelowThreshold(t *testing.T) {
	c := Default()
	c.Inactivity.Threshold = 2 * 24 * time.Hour
	c.Inactivity.WarningLeadTime = 2 * 24 * time.Hour
	assert.ErrorIs(t, c.Validate(), ErrInvalid)
}

func TestValidateRevocationRequiresEndpoint(t *testing.T) {
	c := Default()
	c.Revocation.Enabled = true
	c.Revocation.Endpoint = ""
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c.Revocation.Endpoint = "https://authority.example.com"
	assert.NoError(t, c.Validate())
}

func TestValidateShredRanges(t *testing.T) {
	c := Default()
	c.Shred.Passes = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c = Default()
	c.Shred.ChunkSize = 100
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c = Default()
	c.Shred.WorkerCount = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalid)
}

func TestDisabledMonitorSkipsRangeChecks(t *testing.T) {
	c := Default()
	c.Inactivity.Enabled = false
	c.Inactivity.Threshold = time.Second
	assert.NoError(t, c.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scuttle.yaml")

	c := Default()
	c.Inactivity.Threshold = 3 * 24 * time.Hour
	c.Inactivity.Mode = token.TotalObliteration
	c.Forensic.Sensitivity = SensitivityParanoid
	c.Shred.AppRoots = []string{"/data/app/messages"}

	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.Inactivity.Threshold, loaded.Inactivity.Threshold)
	assert.Equal(t, token.TotalObliteration, loaded.Inactivity.Mode)
	assert.Equal(t, SensitivityParanoid, loaded.Forensic.Sensitivity)
	assert.Equal(t, []string{"/data/app/messages"}, loaded.Shred.AppRoots)
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	c := Default()
	c.Shred.Passes = 99
	err := c.Save(filepath.Join(t.TempDir(), "bad.yaml"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEffectiveScanInterval(t *testing.T) {
	assert.Less(t,
		ForensicConfig{Sensitivity: SensitivityParanoid}.EffectiveScanInterval(),
		ForensicConfig{Sensitivity: SensitivityLow}.EffectiveScanInterval(),
		"paranoid mode must scan more frequently than low sensitivity")

	override := ForensicConfig{Sensitivity: SensitivityLow, ScanInterval: 5 * time.Second}
	assert.Equal(t, 5*time.Second, override.EffectiveScanInterval())
}
