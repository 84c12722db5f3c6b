package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Format string `json:"format"`
	Output string `json:"output"`
	Nested struct {
		Size int `json:"size"`
	} `json:"nested"`
}

func TestMarshal_NoTrailingNewline(t *testing.T) {
	out, err := Marshal(map[string]string{"a": "b"})
	require.NoError(t, err)
	require.Equal(t, `{"a":"b"}`, string(out))
}

func TestUnmarshalConfig_FromYAMLShapedMap(t *testing.T) {
	raw := map[string]interface{}{
		"format": "json",
		"nested": map[interface{}]interface{}{"size": 3},
	}

	var cfg sampleConfig
	require.NoError(t, UnmarshalConfig(raw, &cfg))
	require.Equal(t, "json", cfg.Format)
	require.Equal(t, 3, cfg.Nested.Size)
}

func TestUnmarshalConfig_TypedPointer(t *testing.T) {
	src := &sampleConfig{Format: "console", Output: "stderr"}

	var cfg sampleConfig
	require.NoError(t, UnmarshalConfig(src, &cfg))
	require.Equal(t, *src, cfg)
}

func TestUnmarshalConfig_Nil(t *testing.T) {
	var cfg sampleConfig
	require.Error(t, UnmarshalConfig(nil, &cfg))
}
