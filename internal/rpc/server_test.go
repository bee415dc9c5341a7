package rpc

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/psgate/psgate/internal/config"
	"github.com/psgate/psgate/internal/testutil"
)

// serveLines runs ServeConn over the given request frames and returns the
// response frames.
func serveLines(t *testing.T, lines ...string) []RPCResponse {
	t.Helper()
	gw, _ := testutil.NewGateway(t, nil)
	srv, err := NewServer(gw, "", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Stop()

	var out strings.Builder
	srv.ServeConn(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out, "test")

	var responses []RPCResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp RPCResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("response %q is not JSON: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestPing(t *testing.T) {
	resps := serveLines(t, `{"method":"ping","id":1}`)
	if len(resps) != 1 {
		t.Fatalf("got %d responses", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("ping error: %+v", resps[0].Error)
	}
	if resps[0].ID != 1 {
		t.Errorf("id = %d, want 1", resps[0].ID)
	}
}

func TestMethodNotFound(t *testing.T) {
	resps := serveLines(t, `{"method":"noSuchTool","id":2}`)
	if resps[0].Error == nil || resps[0].Error.Code != ErrCodeMethodNotFound {
		t.Errorf("error = %+v, want method-not-found", resps[0].Error)
	}
}

func TestParseError(t *testing.T) {
	resps := serveLines(t, `{not json`)
	if resps[0].Error == nil || resps[0].Error.Code != ErrCodeParse {
		t.Errorf("error = %+v, want parse error", resps[0].Error)
	}
}

func TestSnakeCaseAlias(t *testing.T) {
	canonical := serveLines(t, `{"method":"executeCommand","params":{"command":"Format-Volume -DriveLetter C"},"id":1}`)
	alias := serveLines(t, `{"method":"execute_command","params":{"command":"Format-Volume -DriveLetter C"},"id":1}`)

	for name, resps := range map[string][]RPCResponse{"canonical": canonical, "alias": alias} {
		if len(resps) != 1 || resps[0].Error != nil {
			t.Fatalf("%s: %+v", name, resps)
		}
		result := resps[0].Result.(map[string]any)
		if result["blocked"] != true {
			t.Errorf("%s: blocked = %v", name, result["blocked"])
		}
	}
}

func TestExecuteCommandErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantCode int
		wantKind string
	}{
		{
			name:     "confirmation required",
			frame:    `{"method":"executeCommand","params":{"command":"Remove-Item ./f.txt"},"id":3}`,
			wantCode: ErrCodeInvalidParams,
			wantKind: "invalid-argument",
		},
		{
			name:     "learn bad action",
			frame:    `{"method":"learn","params":{"action":"explode"},"id":4}`,
			wantCode: ErrCodeInvalidParams,
			wantKind: "invalid-argument",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resps := serveLines(t, tt.frame)
			if resps[0].Error == nil {
				t.Fatalf("no error: %+v", resps[0])
			}
			if resps[0].Error.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", resps[0].Error.Code, tt.wantCode)
			}
			if resps[0].Error.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", resps[0].Error.Kind, tt.wantKind)
			}
		})
	}
}

func TestUnauthorizedCode(t *testing.T) {
	gw, _ := testutil.NewGateway(t, func(c *config.Config) { c.Auth.Key = "k" })
	srv, err := NewServer(gw, "", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Stop()

	var out strings.Builder
	srv.ServeConn(strings.NewReader(`{"method":"serverStats","params":{},"id":1}`+"\n"), &out, "test")

	var resp RPCResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.String())), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeUnauthorized {
		t.Errorf("error = %+v, want code %d", resp.Error, ErrCodeUnauthorized)
	}
	if resp.Error != nil && resp.Error.Kind != "unauthorized" {
		t.Errorf("kind = %q", resp.Error.Kind)
	}
}

func TestServerStatsOverConn(t *testing.T) {
	resps := serveLines(t,
		`{"method":"executeCommand","params":{"command":"Format-Volume -DriveLetter C"},"id":1}`,
		`{"method":"serverStats","params":{},"id":2}`,
	)
	if len(resps) != 2 {
		t.Fatalf("got %d responses", len(resps))
	}
	stats := resps[1].Result.(map[string]any)
	if stats["blocked"] != float64(1) {
		t.Errorf("blocked = %v, want 1", stats["blocked"])
	}
}

func TestSubscribeStreamsEvents(t *testing.T) {
	gw, _ := testutil.NewGateway(t, nil)
	srv, err := NewServer(gw, "", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Stop()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	defer respR.Close() // unblocks the stream writer at teardown
	go srv.ServeConn(reqR, respW, "test")

	go func() {
		reqW.Write([]byte(`{"method":"subscribe","id":1}` + "\n"))
		// Trigger one blocked attempt so an event flows.
		reqW.Write([]byte(`{"method":"executeCommand","params":{"command":"Format-Volume -DriveLetter C"},"id":2}` + "\n"))
	}()

	scanner := bufio.NewScanner(respR)
	deadline := time.After(5 * time.Second)
	sawEvent := false
	for !sawEvent {
		lineCh := make(chan string, 1)
		go func() {
			if scanner.Scan() {
				lineCh <- scanner.Text()
			} else {
				lineCh <- ""
			}
		}()
		select {
		case <-deadline:
			t.Fatal("no event frame before deadline")
		case line := <-lineCh:
			if line == "" {
				t.Fatal("connection closed early")
			}
			var frame struct {
				Result map[string]json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal([]byte(line), &frame); err != nil {
				continue
			}
			if _, ok := frame.Result["event"]; ok {
				sawEvent = true
			}
		}
	}
	reqW.Close()
}
