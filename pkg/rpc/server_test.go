package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/bytevm/pkg/executor"
	"github.com/fortiblox/bytevm/pkg/journal"
	"github.com/fortiblox/bytevm/pkg/program"
	"github.com/fortiblox/bytevm/pkg/programstore"
)

// hello prints "Hi\n".
var hello = []byte{1, 'H', 15, 1, 'i', 15, 1, '\n', 15, 16}

// Helper function to create a test server backed by in-memory storage.
func newTestServer(t *testing.T) (*Server, *programstore.MemoryStore, *journal.MemoryJournal) {
	t.Helper()

	store := programstore.NewMemoryStore()
	j := journal.NewMemoryJournal()
	exec, err := executor.New(executor.DefaultConfig(), store, j)
	if err != nil {
		t.Fatalf("executor.New() failed: %v", err)
	}

	config := DefaultConfig()
	config.Addr = "127.0.0.1:0" // Random port for testing

	return New(config, exec), store, j
}

// Helper function to make an RPC request.
func makeRPCRequest(t *testing.T, server *Server, method string, params interface{}) *Response {
	t.Helper()

	var paramsRaw json.RawMessage
	if params != nil {
		var err error
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			t.Fatalf("Failed to marshal params: %v", err)
		}
	}

	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      1,
		Method:  method,
		Params:  paramsRaw,
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	return &resp
}

// decodeResult re-decodes a generic result into a typed value.
func decodeResult(t *testing.T, resp *Response, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
}

func TestGetHealth(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := makeRPCRequest(t, server, "getHealth", nil)
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}
	if result, ok := resp.Result.(string); !ok || result != "ok" {
		t.Errorf("Expected 'ok', got: %v", resp.Result)
	}

	server.SetHealthy(false)
	resp = makeRPCRequest(t, server, "getHealth", nil)
	if resp.Error == nil || resp.Error.Code != NodeUnhealthy {
		t.Errorf("Expected NodeUnhealthy, got: %v", resp.Error)
	}
}

func TestGetVersion(t *testing.T) {
	server, _, _ := newTestServer(t)

	var info VersionInfo
	decodeResult(t, makeRPCRequest(t, server, "getVersion", nil), &info)
	if info.Version == "" {
		t.Error("Expected version in response")
	}
	if info.Opcodes != 16 {
		t.Errorf("Opcodes = %d, want 16", info.Opcodes)
	}
}

func TestExecute(t *testing.T) {
	server, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		params ExecuteParams
		status string
		text   string
		fault  string
	}{
		{
			name:   "base64",
			params: ExecuteParams{Code: EncodeBase64(hello)},
			status: "halted",
			text:   "Hi\n",
		},
		{
			name:   "hex",
			params: ExecuteParams{Code: "01070e10", Encoding: EncodingHex},
			status: "halted",
			text:   "7\n",
		},
		{
			name:   "division by zero",
			params: ExecuteParams{Code: "010101000810", Encoding: EncodingHex},
			status: "faulted",
			fault:  "DivisionByZero",
		},
		{
			name:   "stack overflow",
			params: ExecuteParams{Code: "0101010110", Encoding: EncodingHex, StackCapacity: 1},
			status: "faulted",
			fault:  "StackOverflow",
		},
		{
			name:   "step limit",
			params: ExecuteParams{Code: "01000a", Encoding: EncodingHex, MaxSteps: 100},
			status: "faulted",
			fault:  "StepLimitExceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res ExecuteResult
			decodeResult(t, makeRPCRequest(t, server, "execute", []interface{}{tt.params}), &res)

			if res.Status != tt.status {
				t.Errorf("Status = %s, want %s", res.Status, tt.status)
			}
			if tt.text != "" && (res.Text == nil || *res.Text != tt.text) {
				t.Errorf("Text = %v, want %q", res.Text, tt.text)
			}
			if tt.fault == "" && res.Fault != nil {
				t.Errorf("unexpected fault: %+v", res.Fault)
			}
			if tt.fault != "" && (res.Fault == nil || res.Fault.Kind != tt.fault) {
				t.Errorf("Fault = %+v, want %s", res.Fault, tt.fault)
			}
		})
	}
}

func TestExecuteFaultDetail(t *testing.T) {
	server, _, _ := newTestServer(t)

	// PUSH 9, JMP: target out of range
	var res ExecuteResult
	decodeResult(t, makeRPCRequest(t, server, "execute",
		[]interface{}{ExecuteParams{Code: "01090a", Encoding: EncodingHex}}), &res)

	if res.Fault == nil || res.Fault.Kind != "InvalidJumpTarget" {
		t.Fatalf("Fault = %+v", res.Fault)
	}
	if res.Fault.IP != 2 || res.Fault.Target == nil || *res.Fault.Target != 9 {
		t.Errorf("Fault = %+v, want target 9 at ip 2", res.Fault)
	}
	if res.Fault.Opcode != "JMP" {
		t.Errorf("Opcode = %q, want JMP", res.Fault.Opcode)
	}
}

func TestExecuteStored(t *testing.T) {
	server, store, j := newTestServer(t)
	p, _ := program.New(hello)
	if _, err := store.Put("hello", p); err != nil {
		t.Fatal(err)
	}

	var res ExecuteResult
	decodeResult(t, makeRPCRequest(t, server, "execute",
		[]interface{}{ExecuteParams{Program: "hello", Record: true}}), &res)

	if res.ProgramID != p.ID().String() {
		t.Errorf("ProgramID = %s, want %s", res.ProgramID, p.ID())
	}
	if res.Seq != 1 {
		t.Errorf("Seq = %d, want 1", res.Seq)
	}
	if n, _ := j.Count(); n != 1 {
		t.Errorf("journal Count() = %d, want 1", n)
	}

	resp := makeRPCRequest(t, server, "execute", []interface{}{ExecuteParams{Program: "missing"}})
	if resp.Error == nil || resp.Error.Code != ProgramNotFound {
		t.Errorf("Expected ProgramNotFound, got: %v", resp.Error)
	}
}

func TestAssembleDisassemble(t *testing.T) {
	server, _, _ := newTestServer(t)

	src := "loop:\n  PUSH 1\n  PRINT\n  HALT\n"
	var asmRes AssembleResult
	decodeResult(t, makeRPCRequest(t, server, "assemble",
		[]interface{}{src, EncodingConfig{Encoding: EncodingHex}}), &asmRes)

	if asmRes.Code != "01010e10" {
		t.Errorf("Code = %s, want 01010e10", asmRes.Code)
	}
	if asmRes.Labels["loop"] != 0 || asmRes.Size != 4 {
		t.Errorf("AssembleResult = %+v", asmRes)
	}

	var disRes DisassembleResult
	decodeResult(t, makeRPCRequest(t, server, "disassemble",
		[]interface{}{asmRes.Code, EncodingConfig{Encoding: EncodingHex}}), &disRes)

	if disRes.ProgramID != asmRes.ProgramID {
		t.Errorf("ProgramID mismatch: %s != %s", disRes.ProgramID, asmRes.ProgramID)
	}
	if len(disRes.Lines) != 3 || disRes.Lines[0].Text != "PUSH 1" {
		t.Errorf("Lines = %+v", disRes.Lines)
	}
	if !strings.Contains(disRes.Listing, "HALT") {
		t.Errorf("Listing missing HALT:\n%s", disRes.Listing)
	}

	resp := makeRPCRequest(t, server, "assemble", []interface{}{"PUSH 1\nBOGUS\n"})
	if resp.Error == nil || resp.Error.Code != AssemblyFailed {
		t.Fatalf("Expected AssemblyFailed, got: %v", resp.Error)
	}
	data, _ := resp.Error.Data.(map[string]interface{})
	if line, _ := data["line"].(float64); line != 2 {
		t.Errorf("error line = %v, want 2", data["line"])
	}
}

func TestProgramLibrary(t *testing.T) {
	server, _, _ := newTestServer(t)
	code := EncodeBase64(hello)

	var info ProgramInfo
	decodeResult(t, makeRPCRequest(t, server, "putProgram", []interface{}{"hello", code}), &info)
	if info.Name != "hello" || info.Size != len(hello) {
		t.Errorf("ProgramInfo = %+v", info)
	}

	for _, enc := range []Encoding{EncodingBase58, EncodingBase64, EncodingBase64Zstd, EncodingHex} {
		var pc ProgramCode
		decodeResult(t, makeRPCRequest(t, server, "getProgram",
			[]interface{}{info.ProgramID, EncodingConfig{Encoding: enc}}), &pc)
		decoded, err := DecodeCode(pc.Code, enc)
		if err != nil {
			t.Fatalf("DecodeCode(%s) failed: %v", enc, err)
		}
		if !bytes.Equal(decoded, hello) {
			t.Errorf("%s round trip = %v", enc, decoded)
		}
	}

	var list []ProgramInfo
	decodeResult(t, makeRPCRequest(t, server, "listPrograms", nil), &list)
	if len(list) != 1 || list[0].Name != "hello" {
		t.Errorf("listPrograms = %+v", list)
	}

	resp := makeRPCRequest(t, server, "deleteProgram", []interface{}{"hello"})
	if resp.Error != nil || resp.Result != true {
		t.Errorf("deleteProgram = %v, %v", resp.Result, resp.Error)
	}
	resp = makeRPCRequest(t, server, "getProgram", []interface{}{"hello"})
	if resp.Error == nil || resp.Error.Code != ProgramNotFound {
		t.Errorf("Expected ProgramNotFound, got: %v", resp.Error)
	}

	resp = makeRPCRequest(t, server, "putProgram", []interface{}{"bad name", code})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("Expected InvalidParams for bad name, got: %v", resp.Error)
	}
}

func TestRuns(t *testing.T) {
	server, _, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := makeRPCRequest(t, server, "execute",
			[]interface{}{ExecuteParams{Code: EncodeBase64(hello), Record: true}})
		if resp.Error != nil {
			t.Fatal(resp.Error)
		}
	}
	resp := makeRPCRequest(t, server, "execute",
		[]interface{}{ExecuteParams{Code: "0f", Encoding: EncodingHex, Record: true}})
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}

	var run RunInfo
	decodeResult(t, makeRPCRequest(t, server, "getRun", []interface{}{4}), &run)
	if run.Status != "faulted" || run.Fault != "StackUnderflow" || run.FaultIP == nil || *run.FaultIP != 0 {
		t.Errorf("run 4 = %+v", run)
	}

	var runs []RunInfo
	decodeResult(t, makeRPCRequest(t, server, "getRuns",
		[]interface{}{RunsParams{Limit: 2, Before: 4}}), &runs)
	if len(runs) != 2 || runs[0].Seq != 3 || runs[1].Seq != 2 {
		t.Errorf("getRuns = %+v", runs)
	}

	resp = makeRPCRequest(t, server, "getRun", []interface{}{99})
	if resp.Error == nil || resp.Error.Code != RunNotFound {
		t.Errorf("Expected RunNotFound, got: %v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := makeRPCRequest(t, server, "nonExistentMethod", nil)
	if resp.Error == nil {
		t.Fatal("Expected error for non-existent method")
	}

	if resp.Error.Code != MethodNotFound {
		t.Errorf("Expected error code %d, got: %d", MethodNotFound, resp.Error.Code)
	}
}

func TestInvalidParams(t *testing.T) {
	server, _, _ := newTestServer(t)

	tests := []struct {
		method string
		params interface{}
	}{
		{"execute", []interface{}{}},
		{"execute", []interface{}{ExecuteParams{}}},
		{"execute", []interface{}{ExecuteParams{Program: "x", Code: "AQ=="}}},
		{"execute", []interface{}{ExecuteParams{Code: "zz", Encoding: EncodingHex}}},
		{"execute", []interface{}{ExecuteParams{Code: "AQ==", Encoding: "rot13"}}},
		{"execute", map[string]interface{}{"code": "AQ=="}},
		{"assemble", []interface{}{}},
		{"getRun", []interface{}{"one"}},
		{"getRuns", []interface{}{RunsParams{Program: "not-an-id"}}},
	}
	for _, tt := range tests {
		resp := makeRPCRequest(t, server, tt.method, tt.params)
		if resp.Error == nil || resp.Error.Code != InvalidParams {
			t.Errorf("%s(%v) error = %v, want InvalidParams", tt.method, tt.params, resp.Error)
		}
	}
}

func TestBatchRequest(t *testing.T) {
	server, _, _ := newTestServer(t)

	requests := []Request{
		{JSONRPC: JSONRPCVersion, ID: 1, Method: "getHealth"},
		{JSONRPC: JSONRPCVersion, ID: 2, Method: "getVersion"},
		{JSONRPC: "1.0", ID: 3, Method: "getHealth"},
	}

	body, _ := json.Marshal(requests)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var responses []Response
	if err := json.Unmarshal(rr.Body.Bytes(), &responses); err != nil {
		t.Fatalf("Failed to unmarshal batch response: %v", err)
	}

	if len(responses) != 3 {
		t.Fatalf("Expected 3 responses, got: %d", len(responses))
	}
	for _, resp := range responses[:2] {
		if resp.Error != nil {
			t.Errorf("Unexpected error in batch response: %v", resp.Error)
		}
	}
	if responses[2].Error == nil || responses[2].Error.Code != InvalidRequest {
		t.Errorf("Expected InvalidRequest for bad version, got: %v", responses[2].Error)
	}
}

func TestRequestTooLarge(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.config.MaxRequestSize = 64

	body := `{"jsonrpc":"2.0","id":1,"method":"getHealth","params":["` + strings.Repeat("x", 100) + `"]}`
	httpReq := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("Expected InvalidRequest, got: %v", resp.Error)
	}
}

func TestCORSHeaders(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://example.com")

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status %d for OPTIONS, got: %d", http.StatusNoContent, rr.Code)
	}

	if rr.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
		t.Error("Expected CORS Allow-Origin header")
	}
}

func TestServerLifecycle(t *testing.T) {
	server, _, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, ln)
	}()

	body := `{"jsonrpc":"2.0","id":1,"method":"getHealth"}`
	httpResp, err := http.Post("http://"+ln.Addr().String(), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	var resp Response
	json.NewDecoder(httpResp.Body).Decode(&resp)
	httpResp.Body.Close()
	if resp.Result != "ok" {
		t.Errorf("getHealth over HTTP = %v", resp.Result)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Server did not stop in time")
	}
}

func TestEncoding(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}

	for _, enc := range []Encoding{EncodingBase58, EncodingBase64, EncodingBase64Zstd, EncodingHex} {
		encoded, err := EncodeCode(data, enc)
		if err != nil {
			t.Fatalf("EncodeCode(%s) failed: %v", enc, err)
		}
		decoded, err := DecodeCode(encoded, enc)
		if err != nil {
			t.Fatalf("DecodeCode(%s) failed: %v", enc, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Errorf("%s: decoded data doesn't match original", enc)
		}
	}

	if enc, err := ParseEncoding(""); err != nil || enc != EncodingBase64 {
		t.Errorf("ParseEncoding(\"\") = %s, %v", enc, err)
	}
	if _, err := ParseEncoding("jsonParsed"); err == nil {
		t.Error("Expected error for unsupported encoding")
	}
}
