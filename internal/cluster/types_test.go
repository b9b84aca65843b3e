package cluster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDeviceListShapes verifies that both the bare array and the enveloped
// form of GET /devices decode into the same DeviceList.
func TestDeviceListShapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCount int
		wantStats bool
		wantErr   bool
	}{
		{
			name:      "bare array",
			body:      `[{"name":"A","ip":"10.0.0.1","last_seen":1700000000},{"name":"B","ip":"10.0.0.2"}]`,
			wantCount: 2,
		},
		{
			name:      "envelope with stats",
			body:      `{"devices":[{"name":"A","ip":"10.0.0.1","last_seen":"12:00:01"}],"stats":{"total_devices":1,"other_devices":0,"local_pc_name":"A","local_ip":"10.0.0.1"}}`,
			wantCount: 1,
			wantStats: true,
		},
		{
			name:      "envelope without devices",
			body:      `{"stats":{"total_devices":0}}`,
			wantCount: 0,
			wantStats: true,
		},
		{
			name:      "null",
			body:      `null`,
			wantCount: 0,
		},
		{
			name:    "scalar is rejected",
			body:    `42`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var list DeviceList
			err := json.Unmarshal([]byte(tt.body), &list)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, list.Devices, tt.wantCount)
			assert.Equal(t, tt.wantStats, list.Stats != nil)
		})
	}
}

// TestDeviceWireKeepsRawTimestamps checks that last_seen is preserved verbatim
// so ingestion can tell numbers, strings and nulls apart.
func TestDeviceWireKeepsRawTimestamps(t *testing.T) {
	var list DeviceList
	body := `[{"name":"A","ip":"1","last_seen":17.5},{"name":"B","ip":"2","last_seen":"23:59:59"},{"name":"C","ip":"3","last_seen":null}]`
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list.Devices, 3)

	assert.Equal(t, "17.5", string(list.Devices[0].LastSeen))
	assert.Equal(t, `"23:59:59"`, string(list.Devices[1].LastSeen))
	assert.Equal(t, "null", string(list.Devices[2].LastSeen))
}

// TestSceneAnalysisAliases covers both analyzer generations.
func TestSceneAnalysisAliases(t *testing.T) {
	var legacy SceneAnalysis
	require.NoError(t, json.Unmarshal([]byte(`{"renderer":"CYCLES","frame_start":1,"frame_end":250,"fps":24}`), &legacy))
	start, end, ok := legacy.Range()
	assert.True(t, ok)
	assert.Equal(t, 1, start)
	assert.Equal(t, 250, end)
	assert.Equal(t, "CYCLES", legacy.RenderEngine())

	var current SceneAnalysis
	require.NoError(t, json.Unmarshal([]byte(`{"engine":"BLENDER_EEVEE","start_frame":10,"end_frame":20,"scene_name":"Scene"}`), &current))
	start, end, ok = current.Range()
	assert.True(t, ok)
	assert.Equal(t, 10, start)
	assert.Equal(t, 20, end)
	assert.Equal(t, "BLENDER_EEVEE", current.RenderEngine())

	var partial SceneAnalysis
	require.NoError(t, json.Unmarshal([]byte(`{"renderer":"CYCLES","frame_start":1}`), &partial))
	_, _, ok = partial.Range()
	assert.False(t, ok)
}

// TestFrameReportNumber accepts either key for the frame number.
func TestFrameReportNumber(t *testing.T) {
	var reports []FrameReport
	require.NoError(t, json.Unmarshal([]byte(`[{"frame":3,"status":"completed"},{"frame_number":4,"status":"pending"},{"status":"failed"}]`), &reports))

	n, ok := reports[0].Number()
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	n, ok = reports[1].Number()
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	_, ok = reports[2].Number()
	assert.False(t, ok)
}
