package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRegistry answers /cl/{plate} and /ts/{plate}; plates starting with
// "NO" are unknown to both.
func fakeRegistry(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(filepath.Base(r.URL.Path), "NO") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/cl/"):
			fmt.Fprint(w, `{"car":[{"title":"Fordon","data":{"Märke":"Volvo"}}],"imageInfo":{"Car Image":"https://x/y.jpg"}}`)
		default:
			fmt.Fprint(w, `{"car":[{"title":"Fordon","data":{"Märke":"Volvo","Modell":"V70"}}]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	cfg := map[string]interface{}{
		"version": 1,
		"sources": map[string]interface{}{
			"cl": map[string]interface{}{"baseUrl": baseURL, "pathTemplate": "/cl/{plate}"},
			"ts": map[string]interface{}{"baseUrl": baseURL, "pathTemplate": "/ts/{plate}"},
		},
		"logging": map[string]interface{}{"level": "error"},
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		lookupFollow = false
		lookupFormat = "human"
		configFlag = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLookupCommand(t *testing.T) {
	path := writeConfig(t, fakeRegistry(t).URL)

	out, err := execute(t, "lookup", "--config", path, "--format", "json", "ABC 123")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	var vm struct {
		Plate       string `json:"plate"`
		Phase       string `json:"phase"`
		CarImageURL string `json:"carImageUrl"`
	}
	if err := json.Unmarshal([]byte(out), &vm); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if vm.Plate != "ABC123" || vm.Phase != "settled-success" {
		t.Errorf("vm = %+v", vm)
	}
	if vm.CarImageURL != "https://x/y.jpg" {
		t.Errorf("carImageUrl = %q", vm.CarImageURL)
	}
}

func TestLookupCommandNotFound(t *testing.T) {
	path := writeConfig(t, fakeRegistry(t).URL)

	out, err := execute(t, "lookup", "--config", path, "NOPE1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := exitCodeForError(err); got != exitNotFound {
		t.Errorf("exit code = %d, want %d", got, exitNotFound)
	}
	if !strings.Contains(out, "settled-error") {
		t.Errorf("final snapshot should still be printed:\n%s", out)
	}
}

func TestLookupCommandFollow(t *testing.T) {
	path := writeConfig(t, fakeRegistry(t).URL)

	out, err := execute(t, "lookup", "--config", path, "--follow", "ABC123")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !strings.Contains(out, "both-pending") {
		t.Errorf("follow output should include the pending snapshot:\n%s", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "Sources: cl=data ts=data") {
		t.Errorf("follow output should end with the settled snapshot:\n%s", out)
	}
}

func TestLookupCommandBadConfig(t *testing.T) {
	_, err := execute(t, "lookup", "--config", filepath.Join(t.TempDir(), "missing.json"), "ABC123")
	if got := exitCodeForError(err); got != exitUsage {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitUsage, err)
	}
}
