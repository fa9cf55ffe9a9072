package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/any-hub/tierhub/internal/blob"
)

// Token 是持久化的用户访问令牌。
type Token struct {
	User     string   `json:"user"`
	Key      string   `json:"key"`
	Token    string   `json:"token"`
	Readonly bool     `json:"readonly"`
	CIDR     []string `json:"cidr,omitempty"`
	Created  int64    `json:"created"`
	Updated  int64    `json:"updated,omitempty"`
}

// TokenFilter 按用户过滤 token。
type TokenFilter struct {
	User string
}

func validUser(user string) error {
	if user == "" || user == "." || user == ".." || strings.ContainsAny(user, "/\\") {
		return fmt.Errorf("invalid token user %q", user)
	}
	return nil
}

func tokensKey(user string) string {
	return TokensPrefix + "/" + user + ".json"
}

func (b *Backend) readUserTokens(ctx context.Context, user string) ([]Token, error) {
	data, err := blob.ReadAll(ctx, b.store, tokensKey(user))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tokens of %s: %w", user, err)
	}
	var tokens []Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("decode tokens of %s: %w", user, err)
	}
	return tokens, nil
}

// SaveToken 保存 token，同一用户下 Key 相同的 token 会被替换。
func (b *Backend) SaveToken(ctx context.Context, token Token) error {
	if err := validUser(token.User); err != nil {
		return err
	}
	if token.Key == "" {
		return errors.New("token key is required")
	}
	unlock := b.locks.Lock(tokensKey(token.User))
	defer unlock()

	tokens, err := b.readUserTokens(ctx, token.User)
	if err != nil {
		return err
	}
	tokens = slices.DeleteFunc(tokens, func(t Token) bool { return t.Key == token.Key })
	tokens = append(tokens, token)
	return b.writeJSON(ctx, tokensKey(token.User), tokens)
}

// DeleteToken 删除用户的某个 token，不存在时返回 ErrNotFound。
func (b *Backend) DeleteToken(ctx context.Context, user, key string) error {
	if err := validUser(user); err != nil {
		return err
	}
	unlock := b.locks.Lock(tokensKey(user))
	defer unlock()

	tokens, err := b.readUserTokens(ctx, user)
	if err != nil {
		return err
	}
	remaining := slices.DeleteFunc(slices.Clone(tokens), func(t Token) bool { return t.Key == key })
	if len(remaining) == len(tokens) {
		return fmt.Errorf("token %s of %s: %w", key, user, ErrNotFound)
	}
	if len(remaining) == 0 {
		return b.store.Delete(ctx, tokensKey(user))
	}
	return b.writeJSON(ctx, tokensKey(user), remaining)
}

// ReadTokens 返回某个用户的全部 token。
func (b *Backend) ReadTokens(ctx context.Context, filter TokenFilter) ([]Token, error) {
	if err := validUser(filter.User); err != nil {
		return nil, err
	}
	tokens, err := b.readUserTokens(ctx, filter.User)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = []Token{}
	}
	return tokens, nil
}
