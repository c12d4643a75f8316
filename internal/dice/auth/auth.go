package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/radieske/dice-settlement/internal/dice"
)

// Escopo base de qualquer conta autenticada
const ScopeActive = "active"

// Caller é a identidade já autenticada que chega em cada operação
type Caller struct {
	Account string
	Scopes  []string
}

// Has informa se o chamador possui o escopo
func (c Caller) Has(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type callerKey struct{}

// WithCaller anexa a identidade do chamador ao contexto
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom recupera a identidade do contexto
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Authenticator verifica que o chamador controla a conta antes de qualquer mutação
type Authenticator interface {
	Require(ctx context.Context, account string) error
}

// ScopeAuthenticator exige a conta nomeada + escopo "active" + a permissão do jogo
type ScopeAuthenticator struct {
	Permission string
}

func NewScopeAuthenticator(permission string) *ScopeAuthenticator {
	return &ScopeAuthenticator{Permission: permission}
}

func (a *ScopeAuthenticator) Require(ctx context.Context, account string) error {
	c, ok := CallerFrom(ctx)
	if !ok || c.Account == "" {
		return &dice.Error{Kind: dice.ErrUnauthorized, Detail: "anonymous caller"}
	}
	if c.Account != account {
		return &dice.Error{Kind: dice.ErrUnauthorized, Detail: fmt.Sprintf("caller %s acting for %s", c.Account, account)}
	}
	if !c.Has(ScopeActive) {
		return &dice.Error{Kind: dice.ErrUnauthorized, Detail: fmt.Sprintf("%s@%s", account, ScopeActive)}
	}
	if a.Permission != "" && !c.Has(a.Permission) {
		return &dice.Error{Kind: dice.ErrUnauthorized, Detail: fmt.Sprintf("%s@%s", account, a.Permission)}
	}
	return nil
}

// KeyStore resolve chaves de API em identidades
type KeyStore struct {
	entries map[string]keyEntry
}

type keyEntry struct {
	key    string
	scopes []string
}

// ParseKeys lê "conta:chave[:escopo1|escopo2],..."; sem escopos, a conta recebe
// "active" e defaultScope
func ParseKeys(list, defaultScope string) (*KeyStore, error) {
	ks := &KeyStore{entries: map[string]keyEntry{}}
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("api key entry %q: expected account:key[:scopes]", item)
		}
		scopes := []string{ScopeActive}
		if defaultScope != "" {
			scopes = append(scopes, defaultScope)
		}
		if len(parts) == 3 {
			scopes = strings.Split(parts[2], "|")
		}
		ks.entries[parts[0]] = keyEntry{key: parts[1], scopes: scopes}
	}
	return ks, nil
}

// Authenticate confere a chave da conta e devolve a identidade
func (ks *KeyStore) Authenticate(account, key string) (Caller, error) {
	e, ok := ks.entries[account]
	if !ok || subtle.ConstantTimeCompare([]byte(e.key), []byte(key)) != 1 {
		return Caller{}, &dice.Error{Kind: dice.ErrUnauthorized, Detail: "invalid credentials for " + account}
	}
	return Caller{Account: account, Scopes: e.scopes}, nil
}
