package binding

import (
	"errors"
	"strings"
	"testing"
)

const allKinds = KindArgument | KindEnvVar | KindExitCode | KindRun |
	KindStderr | KindStdin | KindStdout

func TestParseAddress_Valid(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Address
	}{
		{
			name: "argument",
			text: "backup arg 1",
			want: Address{CommandID: "backup", Kind: KindArgument, Position: 1},
		},
		{
			name: "argument four digits",
			text: "backup arg 9999",
			want: Address{CommandID: "backup", Kind: KindArgument, Position: 9999},
		},
		{
			name: "tab separators",
			text: "backup\targ\t12",
			want: Address{CommandID: "backup", Kind: KindArgument, Position: 12},
		},
		{
			name: "repeated separators",
			text: "backup \t  arg  7",
			want: Address{CommandID: "backup", Kind: KindArgument, Position: 7},
		},
		{
			name: "env",
			text: "backup env TZ",
			want: Address{CommandID: "backup", Kind: KindEnvVar, EnvName: "TZ"},
		},
		{
			name: "exit code",
			text: "backup exit_code",
			want: Address{CommandID: "backup", Kind: KindExitCode},
		},
		{
			name: "run",
			text: "backup run",
			want: Address{CommandID: "backup", Kind: KindRun},
		},
		{
			name: "run wait",
			text: "backup run wait",
			want: Address{CommandID: "backup", Kind: KindRun, Wait: true},
		},
		{
			name: "run trailing separator",
			text: "backup run ",
			want: Address{CommandID: "backup", Kind: KindRun},
		},
		{
			name: "stdin",
			text: "backup stdin",
			want: Address{CommandID: "backup", Kind: KindStdin},
		},
		{
			name: "stdin null terminated",
			text: "backup stdin null_terminated",
			want: Address{CommandID: "backup", Kind: KindStdin, NullTerminated: true},
		},
		{
			name: "stdout",
			text: "backup stdout",
			want: Address{CommandID: "backup", Kind: KindStdout},
		},
		{
			name: "stderr",
			text: "backup stderr",
			want: Address{CommandID: "backup", Kind: KindStderr},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.text, allKinds)
			if err != nil {
				t.Fatalf("ParseAddress(%q) failed: %v", tt.text, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseAddress_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		position int
	}{
		{name: "empty", text: "", position: 1},
		{name: "bad separator", text: "backup,arg 1", position: 7},
		{name: "missing kind", text: "backup ", position: 8},
		{name: "unknown kind", text: "backup frobnicate", position: 8},
		{name: "missing position separator", text: "backup arg", position: 11},
		{name: "missing position", text: "backup arg ", position: 12},
		{name: "zero position", text: "backup arg 0", position: 12},
		{name: "leading zero position", text: "backup arg 01", position: 12},
		{name: "five digit position", text: "backup arg 12345", position: 17},
		{name: "missing env name", text: "backup env ", position: 12},
		{name: "trailing content", text: "backup exit_code extra", position: 17},
		{name: "unknown run option", text: "backup run later", position: 12},
		{name: "hyphenated stdin option", text: "backup stdin null-terminated", position: 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAddress(tt.text, allKinds)
			if err == nil {
				t.Fatalf("ParseAddress(%q) should fail", tt.text)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Error should be a ParseError, got %T: %v", err, err)
			}
			if perr.Position != tt.position {
				t.Errorf("Position = %d, want %d (%v)", perr.Position, tt.position, err)
			}
		})
	}
}

func TestParseAddress_ErrorCarriesExcerpt(t *testing.T) {
	_, err := ParseAddress("backup frobnicate", allKinds)
	if err == nil {
		t.Fatal("ParseAddress should fail")
	}
	if !strings.Contains(err.Error(), `"frobn"`) {
		t.Errorf("Error should quote a short excerpt, got %q", err.Error())
	}
}

func TestParseAddress_KindNotAllowed(t *testing.T) {
	_, err := ParseAddress("backup run", KindArgument|KindEnvVar)
	if !errors.Is(err, ErrKindNotAllowed) {
		t.Errorf("Error = %v, want ErrKindNotAllowed", err)
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		t.Error("A disallowed kind is not a syntax error")
	}

	if _, err := ParseAddress("backup run", KindRun); err != nil {
		t.Errorf("The same address should parse when the kind is allowed: %v", err)
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindArgument, "arg"},
		{KindEnvVar, "env"},
		{KindExitCode, "exit_code"},
		{KindRun, "run"},
		{KindStderr, "stderr"},
		{KindStdin, "stdin"},
		{KindStdout, "stdout"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind.String() = %q, want %q", got, tt.want)
		}
	}
}
