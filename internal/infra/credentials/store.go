package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"genforge/internal/infra"
	"genforge/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"

	DefaultLabel = "default"
)

// Token is one stored provider credential.
type Token struct {
	Label string
	Value string
}

// Store reads and writes provider API tokens kept in integration_tokens.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Tokens lists the enabled tokens of a provider, oldest first. Blank values
// are skipped.
func (s *Store) Tokens(ctx context.Context, provider string) ([]Token, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectIntegrationTokens, provider)
	if err != nil {
		return nil, fmt.Errorf("select %s tokens: %w", provider, err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.Label, &t.Value); err != nil {
			return nil, fmt.Errorf("scan %s token: %w", provider, err)
		}
		t.Value = strings.TrimSpace(t.Value)
		if t.Value == "" {
			continue
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s tokens: %w", provider, err)
	}
	return out, nil
}

// SetToken stores or replaces the token under (provider, label) and re-enables it.
func (s *Store) SetToken(ctx context.Context, provider, label, token string, props map[string]any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("api token is required")
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultLabel
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, label, token, raw)
	return err
}

// Disable removes a token from rotation without deleting it. It reports
// whether a live token was found.
func (s *Store) Disable(ctx context.Context, provider, label string) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QDisableIntegrationToken, provider, label)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
