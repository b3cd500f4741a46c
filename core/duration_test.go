package core

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	var cfg struct {
		Timeout Duration `json:"timeout"`
		TTL     Duration `json:"ttl"`
		Unset   Duration `json:"unset"`
	}
	require.NoError(t, sonic.Unmarshal([]byte(`{"timeout":"1m30s","ttl":2000000000,"unset":null}`), &cfg))
	assert.Equal(t, 90*time.Second, cfg.Timeout.Duration())
	assert.Equal(t, 2*time.Second, cfg.TTL.Duration())
	assert.Zero(t, cfg.Unset)
}

func TestDuration_UnmarshalJSONInvalid(t *testing.T) {
	var d Duration
	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
}

func TestDuration_MarshalJSON(t *testing.T) {
	data, err := sonic.Marshal(struct {
		Timeout Duration `json:"timeout"`
	}{Duration(45 * time.Second)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeout":"45s"}`, string(data))
}

func TestAudioFormatExtension(t *testing.T) {
	assert.Equal(t, "wav", AudioFormat("").Extension())
	assert.Equal(t, "ogg", AudioFormatOpus.Extension())
	assert.Equal(t, "mp3", AudioFormatMP3.Extension())
	assert.Equal(t, "pcm", AudioFormatPCM16.Extension())
}
