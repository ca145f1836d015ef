package bridgeproto

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/luCUBEratur/automatus/internal/domain"
)

func TestEnvelopeCommandDecodesEachKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		frame   string
		want    string
		inspect func(t *testing.T, cmd Command)
	}{
		{
			name:  "auth",
			frame: `{"id":"1","type":"auth_request","payload":{"token":"abc"}}`,
			want:  KindAuthRequest,
			inspect: func(t *testing.T, cmd Command) {
				if cmd.(AuthRequest).Token != "abc" {
					t.Fatalf("unexpected token: %+v", cmd)
				}
			},
		},
		{
			name:  "query",
			frame: `{"id":"2","type":"workspace_query","payload":{"queryType":"list_files","args":{"dir":"src"}}}`,
			want:  KindWorkspaceQuery,
			inspect: func(t *testing.T, cmd Command) {
				q := cmd.(WorkspaceQuery)
				if q.QueryType != "list_files" || q.Args["dir"] != "src" {
					t.Fatalf("unexpected query: %+v", q)
				}
			},
		},
		{
			name:  "file",
			frame: `{"id":"3","type":"file_operation","payload":{"operation":"create","path":"a.txt","content":"hi"}}`,
			want:  KindFileOperation,
			inspect: func(t *testing.T, cmd Command) {
				f := cmd.(FileOperation)
				if f.Operation != "create" || f.Path != "a.txt" || f.Content != "hi" {
					t.Fatalf("unexpected file op: %+v", f)
				}
			},
		},
		{
			name:  "exec",
			frame: `{"id":"4","type":"command_execution","payload":{"commandName":"fmt","args":["-w"],"safetyLevel":"expanded_access"}}`,
			want:  KindCommandExecution,
			inspect: func(t *testing.T, cmd Command) {
				e := cmd.(CommandExecution)
				if e.CommandName != "fmt" || e.SafetyLevel != "expanded_access" {
					t.Fatalf("unexpected execution: %+v", e)
				}
			},
		},
		{
			name:  "context",
			frame: `{"id":"5","type":"context_request","payload":{"contextType":"editor_state"}}`,
			want:  KindContextRequest,
			inspect: func(t *testing.T, cmd Command) {
				if cmd.(ContextRequest).ContextType != "editor_state" {
					t.Fatalf("unexpected context: %+v", cmd)
				}
			},
		},
		{
			name:  "ping without payload",
			frame: `{"id":"6","type":"ping"}`,
			want:  KindPing,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var env Envelope
			if err := json.Unmarshal([]byte(tc.frame), &env); err != nil {
				t.Fatalf("unmarshal envelope: %v", err)
			}
			cmd, err := env.Command()
			if err != nil {
				t.Fatalf("decode command: %v", err)
			}
			if cmd.CommandKind() != tc.want {
				t.Fatalf("expected kind %s, got %s", tc.want, cmd.CommandKind())
			}
			if tc.inspect != nil {
				tc.inspect(t, cmd)
			}
		})
	}
}

func TestEnvelopeCommandRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	env := Envelope{ID: "1", Type: "shutdown_host"}
	if _, err := env.Command(); !errors.Is(err, domain.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestEnvelopeCommandRejectsForeignFields(t *testing.T) {
	t.Parallel()

	// A file_operation payload must not smuggle command_execution fields.
	env := Envelope{
		ID:      "1",
		Type:    KindFileOperation,
		Payload: json.RawMessage(`{"operation":"read","path":"a","commandName":"rm"}`),
	}
	if _, err := env.Command(); err == nil {
		t.Fatal("expected foreign payload fields to be rejected")
	}
}

func TestFailErrResolvesSentinelCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code string
	}{
		{domain.ErrUnknownCommand, CodeUnknownCommand},
		{domain.ErrBreakerOpen, CodeCircuitBreakerOpen},
		{domain.ErrRateLimitExceeded, CodeRateLimitExceeded},
		{domain.ErrAuthenticationRequired, CodeAuthenticationRequired},
		{domain.ErrTokenExpired, CodeTokenExpired},
		{domain.ErrTokenRevoked, CodeTokenRevoked},
		{domain.ErrAddressBlocked, CodeAddressBlocked},
		{domain.ErrTooManyAttempts, CodeTooManyAttempts},
		{domain.ErrPhaseMismatch, CodeSafetyPhaseMismatch},
		{domain.ErrTokenInvalid, CodeInvalidToken},
		{errors.New("handler blew up"), CodeExecutionFailed},
	}
	for _, tc := range cases {
		resp := FailErr("req-1", tc.err)
		if resp.Success {
			t.Fatalf("expected failure response for %v", tc.err)
		}
		if resp.Error == nil || resp.Error.Code != tc.code {
			t.Fatalf("expected code %s for %v, got %+v", tc.code, tc.err, resp.Error)
		}
		if resp.ID != "req-1" {
			t.Fatalf("expected correlated id, got %q", resp.ID)
		}
	}
}

func TestCodeForErrorPrefersBridgeErrorCode(t *testing.T) {
	t.Parallel()

	err := domain.NewBridgeError(CodeUnknownCommand, "unknown query type %q", "bogus")
	if got := CodeForError(err); got != CodeUnknownCommand {
		t.Fatalf("expected bridge error code, got %s", got)
	}

	wrapped := domain.NewBridgeError(CodeAuthorizationDenied, "denied")
	if got := CodeForError(wrapped); got != CodeAuthorizationDenied {
		t.Fatalf("expected AUTHORIZATION_DENIED, got %s", got)
	}
}

func TestOKCarriesTimestampAndData(t *testing.T) {
	t.Parallel()

	resp := OK("id-1", map[string]any{"x": 1})
	if !resp.Success || resp.Data == nil || resp.Timestamp == 0 {
		t.Fatalf("unexpected success response: %+v", resp)
	}
}
