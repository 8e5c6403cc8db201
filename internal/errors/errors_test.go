package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "state error",
			code:    "E002",
			wantMsg: "Malformed state snapshot",
			wantCat: CategoryState,
		},
		{
			name:    "protocol error",
			code:    "E043",
			wantMsg: "WebSocket connection failed",
			wantCat: CategoryProtocol,
		},
		{
			name:    "store error",
			code:    "E060",
			wantMsg: "Unsupported snapshot version",
			wantCat: CategoryStore,
		},
		{
			name:    "unknown error code",
			code:    "E999",
			wantMsg: "Unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryStore, "bucket %q not found", "snapshots")
	if err.Message != `bucket "snapshots" not found` {
		t.Errorf("Message = %q, want %q", err.Message, `bucket "snapshots" not found`)
	}
	if err.Category != CategoryStore {
		t.Errorf("Category = %q, want %q", err.Category, CategoryStore)
	}
}

func TestTablesyncError_Error(t *testing.T) {
	err := New("E002")
	got := err.Error()
	want := "E002: Malformed state snapshot"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	// Without code
	err2 := &TablesyncError{Message: "test error"}
	if err2.Error() != "test error" {
		t.Errorf("Error() = %q, want %q", err2.Error(), "test error")
	}

	// With cause
	err3 := New("E003").Wrap(stderrors.New("bad path"))
	if err3.Error() != "E003: Malformed state patch: bad path" {
		t.Errorf("Error() = %q", err3.Error())
	}
}

func TestTablesyncError_Builders(t *testing.T) {
	err := New("E081").
		WithDetail("server.addr is empty").
		WithSuggestion("Set server.addr in tablesync.json").
		WithExample(`{"server": {"addr": ":7777"}}`)

	if err.Detail != "server.addr is empty" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if err.Suggestion != "Set server.addr in tablesync.json" {
		t.Errorf("Suggestion = %q", err.Suggestion)
	}
	if err.Example == "" {
		t.Error("Example should be set")
	}

	err.WithDetailf("field %s", "x")
	if err.Detail != "field x" {
		t.Errorf("Detail = %q, want %q", err.Detail, "field x")
	}
}

func TestTablesyncError_Wrap(t *testing.T) {
	inner := New("E042")
	outer := New("E003").Wrap(inner)

	if outer.Wrapped != inner {
		t.Error("Wrapped error mismatch")
	}
	if outer.Unwrap() != inner {
		t.Error("Unwrap() should return wrapped error")
	}
}

func TestTablesyncError_Is(t *testing.T) {
	err := New("E002").WithDetail("players: dangling id")
	if !stderrors.Is(err, New("E002")) {
		t.Error("errors with the same code should match")
	}
	if stderrors.Is(err, New("E003")) {
		t.Error("errors with different codes should not match")
	}
	if stderrors.Is(err, &TablesyncError{Message: "no code"}) {
		t.Error("errors without a code should not match")
	}

	wrapped := New("E004").Wrap(New("E001"))
	if !HasCode(wrapped, "E001") || !HasCode(wrapped, "E004") {
		t.Error("HasCode should find wrapped codes")
	}
	if HasCode(wrapped, "E002") {
		t.Error("HasCode should not find absent codes")
	}
}

func TestFromError(t *testing.T) {
	// nil error
	if FromError(nil, "E001") != nil {
		t.Error("FromError(nil, ...) should return nil")
	}

	// Already TablesyncError
	te := New("E001")
	if FromError(te, "E002") != te {
		t.Error("FromError should return TablesyncError as-is")
	}

	// Standard error
	stdErr := &testError{msg: "test error"}
	result := FromError(stdErr, "E001")
	if result.Wrapped != stdErr {
		t.Error("Standard error should be wrapped")
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("E080").
		WithSuggestion("Run tablesync serve from the project directory").
		WithExample("tablesync serve --config ./tablesync.json").
		Wrap(stderrors.New("open tablesync.json: no such file"))

	formatted := err.Format()

	if !strings.Contains(formatted, "E080") {
		t.Error("Format should contain error code")
	}
	if !strings.Contains(formatted, "tablesync.json not found") {
		t.Error("Format should contain error message")
	}
	if !strings.Contains(formatted, "Cause: open tablesync.json") {
		t.Error("Format should contain cause")
	}
	if !strings.Contains(formatted, "Hint:") {
		t.Error("Format should contain hint")
	}
	if !strings.Contains(formatted, "Example:") {
		t.Error("Format should contain example")
	}
	if !strings.Contains(formatted, "Learn more:") {
		t.Error("Format should contain doc URL")
	}
}

func TestFormatCompact(t *testing.T) {
	compact := New("E002").FormatCompact()

	want := "E002: Malformed state snapshot"
	if compact != want {
		t.Errorf("FormatCompact() = %q, want %q", compact, want)
	}
}

func TestFormatJSON(t *testing.T) {
	json := New("E002").WithSuggestion("reload").FormatJSON()

	if !strings.Contains(json, `"code":"E002"`) {
		t.Error("JSON should contain code")
	}
	if !strings.Contains(json, `"category":"state"`) {
		t.Error("JSON should contain category")
	}
	if !strings.Contains(json, `"message":"Malformed state snapshot"`) {
		t.Error("JSON should contain message")
	}
	if !strings.Contains(json, `"suggestion":"reload"`) {
		t.Error("JSON should contain suggestion")
	}
}

func TestGetAllCodes(t *testing.T) {
	codes := GetAllCodes()
	if len(codes) == 0 {
		t.Error("GetAllCodes() should return codes")
	}

	found := false
	for _, code := range codes {
		if code == CodeMalformedPatch {
			found = true
			break
		}
	}
	if !found {
		t.Error("E003 should be in the codes list")
	}
}

func TestGetTemplate(t *testing.T) {
	template, ok := GetTemplate("E001")
	if !ok {
		t.Error("E001 should exist")
	}
	if template.Message != "Invalid state" {
		t.Error("Template message mismatch")
	}

	_, ok = GetTemplate("E999")
	if ok {
		t.Error("E999 should not exist")
	}
}

func TestRegister(t *testing.T) {
	Register("E999", ErrorTemplate{
		Category: CategoryState,
		Message:  "Custom test error",
		Detail:   "This is a test error",
		DocURL:   "https://test.dev/E999",
	})

	err := New("E999")
	if err.Message != "Custom test error" {
		t.Errorf("Message = %q, want %q", err.Message, "Custom test error")
	}

	// Cleanup
	delete(registry, "E999")
}

func TestWrapText(t *testing.T) {
	got := wrapText("short text", 100)
	if len(got) != 1 || got[0] != "short text" {
		t.Errorf("wrapText short text: got %v", got)
	}

	got = wrapText("this is a longer text that should be wrapped", 20)
	if len(got) != 3 {
		t.Errorf("wrapText long text: expected 3 lines, got %d: %v", len(got), got)
	}

	got = wrapText("", 10)
	if len(got) != 0 {
		t.Errorf("wrapText empty: expected empty, got %v", got)
	}
}

func TestColorFunctions(t *testing.T) {
	EnableColors()
	if !strings.Contains(red("test"), "\033[31m") {
		t.Error("red should contain ANSI code when colors enabled")
	}

	DisableColors()
	if strings.Contains(red("test"), "\033[") {
		t.Error("red should not contain ANSI code when colors disabled")
	}
	EnableColors()
}
