package transformer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/digitanimal"
)

var plusOne = time.FixedZone("", 3600)

func sampleReading() digitanimal.DeviceReading {
	alarm := false
	temp := 38.5
	return digitanimal.DeviceReading{
		Collar:         "collar-7",
		Lat:            40.41,
		Lng:            -3.70,
		DeviceTime:     time.Date(2024, 3, 1, 10, 15, 0, 0, plusOne),
		Alarm:          &alarm,
		RawTemperature: &temp,
	}
}

func TestTransformPromotesCoreFields(t *testing.T) {
	r := sampleReading()
	obs := Transform(r)

	require.Equal(t, "collar-7", obs.Source)
	require.Equal(t, "collar-7", obs.SourceName)
	require.Equal(t, ObservationType, obs.Type)
	require.Equal(t, SubjectType, obs.SubjectType)
	require.True(t, r.DeviceTime.Equal(obs.RecordedAt))
	require.Equal(t, Location{Lat: 40.41, Lon: -3.70}, obs.Location)
	require.Equal(t, map[string]interface{}{
		digitanimal.FieldAlarm:          false,
		digitanimal.FieldRawTemperature: 38.5,
	}, obs.Additional)
}

func TestTransformIsDeterministic(t *testing.T) {
	r := sampleReading()
	require.Equal(t, Transform(r), Transform(r))
}

func TestTransformerWithoutScriptIsPlainMapping(t *testing.T) {
	tr, err := New(config.TransformerConfig{})
	require.NoError(t, err)

	obs, err := tr.Transform(sampleReading())
	require.NoError(t, err)
	require.Equal(t, Transform(sampleReading()), obs)
}

const fahrenheitScript = `
function transform(obs) {
	var c = obs.additional.RAW_TEMPERATURE;
	if (c !== undefined) {
		obs.additional.RAW_TEMPERATURE_F = convertTemperature(c, "C", "F");
	}
	obs.subject_type = "cattle";
	return obs;
}
`

func TestTransformerAppliesScript(t *testing.T) {
	tr, err := New(config.TransformerConfig{ScriptCode: fahrenheitScript})
	require.NoError(t, err)

	obs, err := tr.Transform(sampleReading())
	require.NoError(t, err)
	require.Equal(t, "cattle", obs.SubjectType)
	require.Equal(t, "collar-7", obs.Source)
	require.InDelta(t, 101.3, obs.Additional["RAW_TEMPERATURE_F"], 0.001)
	require.True(t, sampleReading().DeviceTime.Equal(obs.RecordedAt))
}

func TestTransformerRejectsScriptWithoutTransform(t *testing.T) {
	_, err := New(config.TransformerConfig{ScriptCode: "var x = 1;"})
	require.Error(t, err)
}

func TestTransformerReloadFromFile(t *testing.T) {
	tr, err := New(config.TransformerConfig{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "transform.js")
	require.NoError(t, os.WriteFile(path, []byte(fahrenheitScript), 0o644))
	require.NoError(t, tr.Reload(config.TransformerConfig{ScriptPath: path}))

	obs, err := tr.Transform(sampleReading())
	require.NoError(t, err)
	require.Equal(t, "cattle", obs.SubjectType)

	require.Error(t, tr.Reload(config.TransformerConfig{ScriptPath: filepath.Join(t.TempDir(), "missing.js")}))

	require.NoError(t, tr.Reload(config.TransformerConfig{}))
	obs, err = tr.Transform(sampleReading())
	require.NoError(t, err)
	require.Equal(t, SubjectType, obs.SubjectType)
}

func TestConvertTemperature(t *testing.T) {
	require.InDelta(t, 212.0, convertTemperature(100, "c", "f"), 0.0001)
	require.InDelta(t, 0.0, convertTemperature(273.15, "K", "C"), 0.0001)
	require.Equal(t, 5.0, convertTemperature(5, "X", "C"))
}
