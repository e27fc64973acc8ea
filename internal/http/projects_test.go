package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/jirasync/internal/database/projectstatus"
)

func TestProjectsStatus(t *testing.T) {
	f := setupRouter(t, "")

	require.NoError(t, f.projects.RecordFullSync("PROJ", "completed", 42, "", nil))
	require.NoError(t, f.projects.RecordWorklogSync("PROJ", "completed",
		projectstatus.WorklogTallies{Processed: 5, Added: 5}, ""))

	w := f.do(http.MethodGet, "/api/projects/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Projects []ProjectStatusEntry `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Projects, 2)

	byKey := make(map[string]ProjectStatusEntry, len(body.Projects))
	for _, entry := range body.Projects {
		byKey[entry.ProjectKey] = entry
	}

	proj := byKey["PROJ"]
	require.NotNil(t, proj.FullSync)
	require.NotNil(t, proj.WorklogSync)
	assert.False(t, proj.FullSyncDue)
	assert.False(t, proj.WorklogSyncDue)
	assert.Equal(t, 5, proj.WorklogSync.WorklogsProcessed)

	// OPS has never been synced and shows up as due on both clocks.
	ops := byKey["OPS"]
	assert.Nil(t, ops.FullSync)
	assert.Nil(t, ops.WorklogSync)
	assert.True(t, ops.FullSyncDue)
	assert.True(t, ops.WorklogSyncDue)
}
