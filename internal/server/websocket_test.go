package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsguide/opsguide-ai/internal/models"
	"github.com/opsguide/opsguide-ai/internal/orchestrator"
)

func dialWS(t *testing.T, srv *Server, header http.Header) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/requests"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) ([]WSFrame, WSFrame) {
	t.Helper()
	var seen []WSFrame
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f WSFrame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == frameType {
			return seen, f
		}
		seen = append(seen, f)
	}
}

func TestWebSocketStreamsStagesThenArtifact(t *testing.T) {
	srv := newTestServer(t, Config{}, newOrchestrator(t, mockLLM(t)), false)
	conn := dialWS(t, srv, http.Header{"X-User-ID": []string{"alice"}})

	require.NoError(t, conn.WriteJSON(WSRequest{
		RequestID: "ws-1",
		Query:     "cancel case CASE-2024-001",
		Mode:      "rag",
	}))

	stages, final := readUntil(t, conn, FrameTypeArtifact)
	require.NotNil(t, final.Artifact)
	assert.Equal(t, "ws-1", final.RequestID)
	assert.Equal(t, models.StatusProcessedWithRAG, final.Artifact.Status)
	assert.Equal(t, "alice", final.Artifact.Input.UserID)

	var names []string
	for _, f := range stages {
		if f.Type == FrameTypeStage {
			names = append(names, f.Stage)
		}
	}
	assert.Contains(t, names, orchestrator.NodeReason)
	assert.Contains(t, names, orchestrator.NodeClassify)
	assert.Equal(t, orchestrator.StageCompleted, names[len(names)-1])
}

func TestWebSocketSessionHandlesSeveralRequests(t *testing.T) {
	srv := newTestServer(t, Config{}, newOrchestrator(t, mockLLM(t)), false)
	conn := dialWS(t, srv, nil)

	require.NoError(t, conn.WriteJSON(WSRequest{UserID: "bob", Query: "   "}))
	_, errFrame := readUntil(t, conn, FrameTypeError)
	assert.Equal(t, "Query is required", errFrame.Error)

	require.NoError(t, conn.WriteJSON(WSRequest{Query: "cancel order ORDER-2024-001"}))
	_, errFrame = readUntil(t, conn, FrameTypeError)
	assert.Equal(t, "userId is required", errFrame.Error)

	require.NoError(t, conn.WriteJSON(WSRequest{UserID: "bob", Query: "cancel order ORDER-2024-001"}))
	_, final := readUntil(t, conn, FrameTypeArtifact)
	require.NotNil(t, final.Artifact)
	assert.Equal(t, models.StatusProcessed, final.Artifact.Status)
	require.NotNil(t, final.Artifact.Classification.TaskID)
	assert.Equal(t, "CANCEL_ORDER", *final.Artifact.Classification.TaskID)
}

func TestOriginChecking(t *testing.T) {
	tests := []struct {
		name      string
		origins   []string
		reqOrigin string
		want      bool
	}{
		{"allow localhost:3000 by default", nil, "http://localhost:3000", true},
		{"allow localhost:5173 by default", nil, "http://localhost:5173", true},
		{"block external by default", nil, "https://evil.example.com", false},
		{"wildcard allows anything", []string{"*"}, "https://example.com", true},
		{"explicit allow match", []string{"https://ops.example.com"}, "https://ops.example.com", true},
		{"explicit allow mismatch", []string{"https://ops.example.com"}, "https://evil.com", false},
		{"case-insensitive origin", []string{"https://Ops.Example.Com"}, "https://ops.example.com", true},
		{"no origin header allowed", nil, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/requests", nil)
			if tc.reqOrigin != "" {
				r.Header.Set("Origin", tc.reqOrigin)
			}
			up := newUpgrader(tc.origins)
			assert.Equal(t, tc.want, up.CheckOrigin(r))
		})
	}
}
