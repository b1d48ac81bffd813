package session

import (
	"bytes"
	"context"
	"testing"

	"enricher/internal/store"

	"github.com/stretchr/testify/require"
)

func TestResolveMode(t *testing.T) {
	open := store.Profile{ID: "p1"}
	gated := store.Profile{ID: "p2", AuthRequired: true, CredentialID: "c1"}

	require.Equal(t, ModeNone, ResolveMode(open, nil))
	require.Equal(t, ModeNone, ResolveMode(gated, nil))

	withService := &store.Credential{ID: "c1", ServiceURL: "https://v.example/login", Username: "u"}
	require.Equal(t, ModePreLogin, ResolveMode(gated, withService))

	withoutService := &store.Credential{ID: "c1", Username: "u"}
	require.Equal(t, ModeInteractive, ResolveMode(gated, withoutService))

	// Credential present but profile does not require auth: stay open.
	require.Equal(t, ModeNone, ResolveMode(open, withService))
}

func TestSecretRoundtrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	nonce := bytes.Repeat([]byte{0x07}, 12)

	sealed, err := SealSecret(key, nonce, "hunter2")
	require.NoError(t, err)
	require.NotContains(t, sealed, "hunter2")

	plain, err := decryptSecret(key, sealed)
	require.NoError(t, err)
	require.Equal(t, "hunter2", plain)
}

func TestDecryptSecretRejectsTampering(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	nonce := bytes.Repeat([]byte{0x07}, 12)
	sealed, err := SealSecret(key, nonce, "hunter2")
	require.NoError(t, err)

	otherKey := bytes.Repeat([]byte{0x43}, 32)
	_, err = decryptSecret(otherKey, sealed)
	require.Error(t, err)

	_, err = decryptSecret(key, "not base64!!")
	require.Error(t, err)

	_, err = decryptSecret(key, "c2hvcnQ=")
	require.Error(t, err)
}

func TestEstablishFailsClosedWithoutCredential(t *testing.T) {
	mgr := NewManager(failingCreds{}, bytes.Repeat([]byte{1}, 32), 0)
	profile := store.Profile{ID: "p1", AuthRequired: true, CredentialID: "missing"}

	_, err := mgr.Establish(context.Background(), "job-1", profile)
	require.ErrorIs(t, err, ErrAuthFailed)
}

type failingCreds struct{}

func (failingCreds) GetCredential(context.Context, string) (store.Credential, error) {
	return store.Credential{}, store.ErrNotFound
}
