package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
)

const gatedYAML = `name: Product recall
category: crisis
risk_level: high
trigger_type: event
steps:
  - step_index: 0
    name: Notify stakeholders
    action_type: stakeholder_notify
  - step_index: 1
    name: Legal review
    action_type: approval_gate
    requires_approval: true
    approval_roles: [legal]
  - step_index: 2
    name: Publish statement
    action_type: content_publish
`

// envelope is the shape of every JSON presenter document
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type cliHarness struct {
	fs     afero.Fs
	dbPath string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/recall.yaml", []byte(gatedYAML), 0o644))
	return &cliHarness{fs: fs, dbPath: filepath.Join(t.TempDir(), "deeplay.db")}
}

// exec runs one invocation as its own process would and decodes the JSON output
func (h *cliHarness) exec(t *testing.T, args ...string) (envelope, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--home", "/home", "--db", h.dbPath, "--tenant", "acme", "--format", "json"}, args...)
	err := Execute(context.Background(), full, WithFs(h.fs), WithOutput(&stdout, &stderr))

	var env envelope
	if stdout.Len() > 0 {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &env), stdout.String())
	}
	return env, err
}

func (h *cliHarness) mustExec(t *testing.T, out interface{}, args ...string) {
	t.Helper()
	env, err := h.exec(t, args...)
	require.NoError(t, err)
	require.True(t, env.Success, env.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
}

func TestCLI_RunLifecycle(t *testing.T) {
	h := newCLIHarness(t)

	var pb dto.PlaybookDTO
	h.mustExec(t, &pb, "playbook", "import", "/work/recall.yaml", "--activate")
	assert.Equal(t, "active", pb.Status)
	assert.Equal(t, 1, pb.Version)
	require.Len(t, pb.Steps, 3)

	var sc dto.ScenarioDTO
	h.mustExec(t, &sc, "scenario", "create", "--name", "Q3 recall", "--playbook", pb.ID,
		"--risk", "high", "--horizon", "3", "--param", "region=emea", "--param", "severity=3")
	assert.Equal(t, pb.ID, sc.PlaybookID)
	assert.Equal(t, map[string]interface{}{"region": "emea", "severity": 3.0}, sc.ContextParameters)

	var sim struct {
		Timeline []json.RawMessage `json:"timeline"`
		Steps    []json.RawMessage `json:"steps"`
	}
	h.mustExec(t, &sim, "scenario", "simulate", sc.ID)
	assert.Len(t, sim.Timeline, 3)
	assert.Len(t, sim.Steps, 3)

	var started dto.RunDTO
	h.mustExec(t, &started, "run", "start", sc.ID)
	require.Equal(t, "awaiting_approval", started.Status)
	require.Len(t, started.Steps, 3)
	assert.Equal(t, "completed", started.Steps[0].Status)

	var step dto.RunStepDTO
	h.mustExec(t, &step, "run", "approve", started.Steps[1].ID, "--role", "legal", "--notes", "cleared")
	assert.Equal(t, "completed", step.Status)

	var shown dto.RunDTO
	h.mustExec(t, &shown, "run", "show", started.ID)
	assert.Equal(t, "completed", shown.Status)
	assert.NotNil(t, shown.RiskScore)

	var list dto.ListRunsResponse
	h.mustExec(t, &list, "run", "list", "--scenario", sc.ID, "--status", "completed")
	assert.Equal(t, 1, list.Total)
	assert.False(t, list.HasMore)

	var trend dto.TrendDTO
	h.mustExec(t, &trend, "scenario", "trend", sc.ID)
	assert.Equal(t, "unknown", trend.RiskTrend, "one completed run has nothing to compare against")
}

func TestCLI_RejectSkipsGate(t *testing.T) {
	h := newCLIHarness(t)
	var pb dto.PlaybookDTO
	h.mustExec(t, &pb, "playbook", "import", "/work/recall.yaml", "--activate")
	var sc dto.ScenarioDTO
	h.mustExec(t, &sc, "scenario", "create", "--name", "Recall", "--playbook", pb.ID)
	var started dto.RunDTO
	h.mustExec(t, &started, "run", "start", sc.ID)

	env, err := h.exec(t, "run", "approve", started.Steps[1].ID, "--reject")
	require.Error(t, err)
	assert.Equal(t, "VALIDATION", env.Code, "rejection needs notes")

	var step dto.RunStepDTO
	h.mustExec(t, &step, "run", "approve", started.Steps[1].ID, "--reject", "--notes", "too risky", "--role", "legal")
	assert.Equal(t, "skipped", step.Status)

	var shown dto.RunDTO
	h.mustExec(t, &shown, "run", "show", started.ID)
	assert.Equal(t, "completed", shown.Status)
	assert.Equal(t, "skipped", shown.Steps[1].Status)
	assert.Equal(t, "completed", shown.Steps[2].Status)
}

func TestCLI_Errors(t *testing.T) {
	h := newCLIHarness(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"missing run", []string{"run", "show", "nope"}, "NOT_FOUND"},
		{"missing file", []string{"playbook", "import", "/work/absent.yaml"}, ""},
		{"bad param", []string{"scenario", "create", "--name", "x", "--playbook", "p", "--param", "novalue"}, "VALIDATION"},
		{"bad status filter", []string{"run", "list", "--status", "sleeping"}, "VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := h.exec(t, tt.args...)
			require.Error(t, err)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestCLI_StartDraftPlaybookConflicts(t *testing.T) {
	h := newCLIHarness(t)
	var pb dto.PlaybookDTO
	h.mustExec(t, &pb, "playbook", "import", "/work/recall.yaml")
	assert.Equal(t, "draft", pb.Status)

	var sc dto.ScenarioDTO
	h.mustExec(t, &sc, "scenario", "create", "--name", "Recall", "--playbook", pb.ID)

	env, err := h.exec(t, "run", "start", sc.ID)
	require.Error(t, err)
	assert.Equal(t, "STATE_CONFLICT", env.Code)
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"region=emea", "severity=3", "urgent=true", "note=", "ratio=0.5", "raw=[a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"region":   "emea",
		"severity": 3,
		"urgent":   true,
		"note":     "",
		"ratio":    0.5,
		"raw":      "[a",
	}, got)

	for _, bad := range []string{"novalue", "=x", " =x"} {
		_, err := parseParams([]string{bad})
		assert.Error(t, err, bad)
	}
}

// startServe runs serve over the harness database until the returned stop is called
func (h *cliHarness) startServe(t *testing.T) (baseURL string, stop func()) {
	t.Helper()
	s := &session{fs: h.fs, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	s.flags.home = "/home"
	s.flags.db = h.dbPath
	require.NoError(t, s.load())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	baseURL = fmt.Sprintf("http://%s", ln.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(15 * time.Second):
				t.Fatal("serve did not stop")
			}
			assert.NoError(t, s.close())
		})
	}
	t.Cleanup(stop)
	return baseURL, stop
}

func TestServe(t *testing.T) {
	h := newCLIHarness(t)
	_, stop := h.startServe(t)
	stop()
}

func TestCLI_ServerRoutesRunCommands(t *testing.T) {
	h := newCLIHarness(t)

	var pb dto.PlaybookDTO
	h.mustExec(t, &pb, "playbook", "import", "/work/recall.yaml", "--activate")
	var sc dto.ScenarioDTO
	h.mustExec(t, &sc, "scenario", "create", "--name", "Recall", "--playbook", pb.ID, "--risk", "high")

	server, _ := h.startServe(t)

	var started dto.RunDTO
	h.mustExec(t, &started, "--server", server, "run", "start", sc.ID)
	require.Equal(t, "awaiting_approval", started.Status)

	env, err := h.exec(t, "--server", server, "run", "approve", started.Steps[1].ID, "--reject")
	require.Error(t, err)
	assert.Equal(t, "VALIDATION", env.Code, "the server's error class survives the round trip")

	var step dto.RunStepDTO
	h.mustExec(t, &step, "--server", server, "run", "approve", started.Steps[1].ID, "--role", "legal", "--notes", "ok")
	assert.Equal(t, "completed", step.Status)

	var shown dto.RunDTO
	h.mustExec(t, &shown, "run", "show", started.ID)
	assert.Equal(t, "completed", shown.Status, "the store reflects what serve did")

	var listed dto.ListRunsResponse
	h.mustExec(t, &listed, "--server", server, "run", "list", "--status", "completed")
	assert.Equal(t, 1, listed.Total)

	_, err = h.exec(t, "--server", "http://127.0.0.1:1", "run", "show", started.ID)
	assert.Error(t, err, "an unreachable server is an error, not a silent fallback")

	env, err = h.exec(t, "--server", "not a url", "run", "show", started.ID)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION", env.Code)
}
