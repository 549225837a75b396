package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running testserver subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "rotor-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "testserver")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/testserver")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func startServer(t *testing.T) *serverProc {
	t.Helper()
	binary := getBinary(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(), "ROTOR_LISTEN_ADDR="+addr)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// deployReq mirrors the POST /v1/deployments body.
type deployReq struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	ModuleRef string `json:"module_ref"`
	Instances int    `json:"instances"`
	Worker    bool   `json:"worker"`
}

// deploymentStatus mirrors the API's deployment snapshot shape.
type deploymentStatus struct {
	Metadata struct {
		Name      string `json:"name"`
		Kind      string `json:"kind"`
		ModuleRef string `json:"module_ref"`
		Instances int    `json:"instances"`
	} `json:"metadata"`
	Instances []struct {
		ID      string `json:"id"`
		Context int64  `json:"context"`
	} `json:"instances"`
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func doDelete(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		t.Fatalf("build DELETE: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode body %q: %v", data, err)
	}
}

func TestDeployUndeployLifecycle(t *testing.T) {
	sp := startServer(t)

	resp := postJSON(t, sp.url+"/v1/deployments?wait=1", deployReq{
		Kind: "stub", Name: "svc1", ModuleRef: "stub://ok", Instances: 3,
	})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("deploy status = %d, want 200; body: %s", resp.StatusCode, body)
	}
	var status deploymentStatus
	decodeBody(t, resp, &status)
	if status.Metadata.Name != "svc1" {
		t.Errorf("deployed name = %q, want svc1", status.Metadata.Name)
	}
	if len(status.Instances) != 3 {
		t.Errorf("instance count after wait = %d, want 3", len(status.Instances))
	}

	// The list surface agrees.
	resp, err := http.Get(sp.url + "/v1/deployments")
	if err != nil {
		t.Fatalf("list deployments: %v", err)
	}
	var list struct {
		Deployments []deploymentStatus `json:"deployments"`
		Total       int                `json:"total"`
	}
	decodeBody(t, resp, &list)
	if list.Total != 1 {
		t.Fatalf("list total = %d, want 1", list.Total)
	}

	// The journal recorded the launch sequence.
	resp, err = http.Get(sp.url + "/v1/deployments/svc1/events/history")
	if err != nil {
		t.Fatalf("event history: %v", err)
	}
	var history struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	decodeBody(t, resp, &history)
	counts := map[string]int{}
	for _, ev := range history.Events {
		counts[ev.Type]++
	}
	if counts["deploy"] != 1 || counts["instance_started"] != 3 || counts["deployed"] != 1 {
		t.Errorf("launch event counts = %v, want deploy=1 instance_started=3 deployed=1", counts)
	}

	// Undeploy and wait for all three stops.
	resp = doDelete(t, sp.url+"/v1/deployments/svc1?wait=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("undeploy status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(sp.url + "/v1/deployments")
	if err != nil {
		t.Fatalf("list after undeploy: %v", err)
	}
	decodeBody(t, resp, &list)
	if list.Total != 0 {
		t.Errorf("list total after undeploy = %d, want 0", list.Total)
	}

	// History survives the registry purge.
	resp, err = http.Get(sp.url + "/v1/deployments/svc1/events/history")
	if err != nil {
		t.Fatalf("event history after undeploy: %v", err)
	}
	decodeBody(t, resp, &history)
	counts = map[string]int{}
	for _, ev := range history.Events {
		counts[ev.Type]++
	}
	if counts["instance_stopped"] != 3 || counts["undeployed"] != 1 {
		t.Errorf("teardown event counts = %v, want instance_stopped=3 undeployed=1", counts)
	}
}

func TestDuplicateNameConflicts(t *testing.T) {
	sp := startServer(t)

	resp := postJSON(t, sp.url+"/v1/deployments?wait=1", deployReq{
		Kind: "stub", Name: "dup", ModuleRef: "stub://ok", Instances: 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first deploy status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, sp.url+"/v1/deployments", deployReq{
		Kind: "stub", Name: "dup", ModuleRef: "stub://ok", Instances: 1,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate deploy status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLaunchFailureTearsDown(t *testing.T) {
	sp := startServer(t)

	// Every instance fails during start; waiting still completes (failures
	// count toward the join) and the deployment is gone afterwards.
	resp := postJSON(t, sp.url+"/v1/deployments?wait=1", deployReq{
		Kind: "stub", Name: "doomed", ModuleRef: "stub://fail-start", Instances: 2,
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("failed deploy status = %d, want 500", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(sp.url + "/v1/deployments/doomed")
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after failed deploy = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(sp.url + "/v1/deployments/doomed/events/history")
	if err != nil {
		t.Fatalf("event history: %v", err)
	}
	var history struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	decodeBody(t, resp, &history)
	failed := 0
	for _, ev := range history.Events {
		if ev.Type == "instance_failed" {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("instance_failed events = %d, want 2", failed)
	}
}

func TestUndeployUnknownName(t *testing.T) {
	sp := startServer(t)

	resp := doDelete(t, sp.url+"/v1/deployments/no-such-name")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("undeploy unknown status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUndeployAll(t *testing.T) {
	sp := startServer(t)

	for _, name := range []string{"svc-a", "svc-b"} {
		resp := postJSON(t, sp.url+"/v1/deployments?wait=1", deployReq{
			Kind: "stub", Name: name, ModuleRef: "stub://ok", Instances: 2, Worker: true,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("deploy %s status = %d, want 200", name, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := doDelete(t, sp.url+"/v1/deployments?wait=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("undeploy-all status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(sp.url + "/v1/deployments")
	if err != nil {
		t.Fatalf("list after undeploy-all: %v", err)
	}
	var list struct {
		Total int `json:"total"`
	}
	decodeBody(t, resp, &list)
	if list.Total != 0 {
		t.Errorf("list total after undeploy-all = %d, want 0", list.Total)
	}

	// A drained server reports no live deployments in stats either.
	resp, err = http.Get(sp.url + "/v1/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats struct {
		Deployments int `json:"deployments"`
		Instances   int `json:"instances"`
	}
	decodeBody(t, resp, &stats)
	if stats.Deployments != 0 || stats.Instances != 0 {
		t.Errorf("stats after undeploy-all = %+v, want zeros", stats)
	}
}

func TestKindsListsStubFactory(t *testing.T) {
	sp := startServer(t)

	resp, err := http.Get(sp.url + "/v1/kinds")
	if err != nil {
		t.Fatalf("list kinds: %v", err)
	}
	var kinds []struct {
		Kind string `json:"kind"`
	}
	decodeBody(t, resp, &kinds)
	found := false
	for _, k := range kinds {
		if k.Kind == "stub" {
			found = true
		}
	}
	if !found {
		t.Errorf("kinds = %v, missing stub", kinds)
	}
}

func TestServerLogsStartup(t *testing.T) {
	sp := startServer(t)

	resp, err := http.Get(sp.url + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		if strings.Contains(sp.stdout.String(), "server listening") {
			return
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("no structured startup log observed\nstdout:\n%s", sp.stdout.String())
}
