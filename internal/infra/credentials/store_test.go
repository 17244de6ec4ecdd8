package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	tokens [][2]string
	err    error
	tag    pgconn.CommandTag
	exec   struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return s.tag, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return nil
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{data: s.tokens, pos: -1}, nil
}

// stubRows yields (label, token) pairs.
type stubRows struct {
	data [][2]string
	pos  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, errors.New("not implemented") }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.pos++
	return r.pos < len(r.data)
}

func (r *stubRows) Scan(dest ...any) error {
	if len(dest) != 2 {
		return errors.New("expected two destinations")
	}
	label, ok1 := dest[0].(*string)
	token, ok2 := dest[1].(*string)
	if !ok1 || !ok2 {
		return errors.New("invalid dest")
	}
	*label = r.data[r.pos][0]
	*token = r.data[r.pos][1]
	return nil
}

func TestTokensTrimsAndSkipsBlank(t *testing.T) {
	store := NewStore(&stubExecutor{tokens: [][2]string{
		{"primary", " abc123 "},
		{"empty", "   "},
		{"backup", "def456"},
	}})
	tokens, err := store.Tokens(context.Background(), ProviderGemini)
	if err != nil {
		t.Fatalf("Tokens error: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != (Token{Label: "primary", Value: "abc123"}) || tokens[1].Label != "backup" {
		t.Fatalf("tokens = %+v", tokens)
	}
}

func TestTokensQueryError(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("pool closed")})
	if _, err := store.Tokens(context.Background(), ProviderGemini); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetTokenDefaultsLabel(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), ProviderGemini, " ", "secret", nil); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(exec.exec.args))
	}
	if v, _ := exec.exec.args[1].(string); v != DefaultLabel {
		t.Fatalf("label = %v, want %q", exec.exec.args[1], DefaultLabel)
	}
	if v, _ := exec.exec.args[2].(string); v != "secret" {
		t.Fatalf("token = %v, want secret", exec.exec.args[2])
	}
}

func TestSetTokenEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), ProviderGemini, "a", " ", nil); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestDisableReportsRowsAffected(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 1")}
	ok, err := NewStore(exec).Disable(context.Background(), ProviderGemini, "primary")
	if err != nil || !ok {
		t.Fatalf("Disable = %v, %v", ok, err)
	}
	exec.tag = pgconn.NewCommandTag("UPDATE 0")
	if ok, _ := NewStore(exec).Disable(context.Background(), ProviderGemini, "primary"); ok {
		t.Fatal("Disable should report false when nothing changed")
	}
}
