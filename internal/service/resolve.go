package service

import (
	"context"
	"errors"
	"fmt"

	"trainer/internal/provider"
	"trainer/internal/store"
)

// CredentialLookup is the read side of the credential store used to pick an account
type CredentialLookup interface {
	GetCredential(ctx context.Context, provider, externalAccountID string) (*store.Credential, error)
	MostRecentCredential(ctx context.Context, provider string) (*store.Credential, error)
}

// AccountResolver chooses the account a sync runs against. Rules, in order:
// the explicitly requested account, the configured default for the provider
// if it is connected, then the most recently updated connected account.
type AccountResolver struct {
	creds    CredentialLookup
	defaults map[provider.Name]string
}

// NewAccountResolver creates a resolver with per-provider default account ids
func NewAccountResolver(creds CredentialLookup, defaults map[provider.Name]string) *AccountResolver {
	return &AccountResolver{creds: creds, defaults: defaults}
}

// Resolve returns the account to sync. ErrNoAccount means nothing is connected.
func (r *AccountResolver) Resolve(ctx context.Context, p provider.Name, explicit string) (AccountRef, error) {
	if explicit != "" {
		return AccountRef{Provider: p, ExternalAccountID: explicit}, nil
	}

	if def := r.defaults[p]; def != "" {
		_, err := r.creds.GetCredential(ctx, string(p), def)
		if err == nil {
			return AccountRef{Provider: p, ExternalAccountID: def}, nil
		}
		if !errors.Is(err, store.ErrCredentialNotFound) {
			return AccountRef{}, fmt.Errorf("looking up default account: %w", err)
		}
	}

	cred, err := r.creds.MostRecentCredential(ctx, string(p))
	if errors.Is(err, store.ErrCredentialNotFound) {
		return AccountRef{}, fmt.Errorf("%s: %w", p, ErrNoAccount)
	}
	if err != nil {
		return AccountRef{}, fmt.Errorf("looking up most recent account: %w", err)
	}
	return AccountRef{Provider: p, ExternalAccountID: cred.ExternalAccountID}, nil
}
