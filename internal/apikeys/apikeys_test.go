package apikeys

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/AutoRouter/internal/access"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/credcache"
	"github.com/router-for-me/AutoRouter/internal/db"
	"github.com/router-for-me/AutoRouter/internal/models"
	"github.com/router-for-me/AutoRouter/internal/security"
	"github.com/router-for-me/AutoRouter/internal/store"
)

type fixture struct {
	store    *store.GormStore
	cipher   *security.Cipher
	verifier *access.Verifier
	service  *Service
	upstream models.Upstream
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "apikeys.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { _ = db.Close(conn) })

	key, _ := security.GenerateKey()
	cipher, err := security.LoadCipher(key, "")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	st := store.NewGormStore(conn)
	verifier := access.NewVerifier(st, credcache.NewMemoryCache(time.Minute, 100))

	up := models.Upstream{Name: "openai", Provider: "openai", BaseURL: "https://api.openai.com/v1", APIKeyEncrypted: "x", Timeout: 60, Active: true}
	if errCreate := st.CreateUpstream(context.Background(), &up); errCreate != nil {
		t.Fatalf("create upstream: %v", errCreate)
	}
	return &fixture{store: st, cipher: cipher, verifier: verifier, service: NewService(st, cipher, verifier), upstream: up}
}

func TestCreate_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		in   CreateInput
		want string
	}{
		{in: CreateInput{Name: " ", UpstreamIDs: []uint64{f.upstream.ID}}, want: "name is required"},
		{in: CreateInput{Name: "k"}, want: "at least one upstream"},
		{in: CreateInput{Name: "k", UpstreamIDs: []uint64{f.upstream.ID, 404, 405}}, want: "invalid upstream ids: [404 405]"},
		{in: CreateInput{Name: "k", UpstreamIDs: []uint64{f.upstream.ID}, ExpiresAt: &past}, want: "expires_at"},
	}
	for _, tc := range cases {
		_, err := f.service.Create(ctx, tc.in)
		var validation *apierr.ValidationError
		if !errors.As(err, &validation) || !strings.Contains(validation.Message, tc.want) {
			t.Fatalf("expected validation error containing %q, got %v", tc.want, err)
		}
	}
}

func TestCreate_InactiveUpstreamAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.DeleteUpstream(ctx, f.upstream.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := f.service.Create(ctx, CreateInput{Name: "k", UpstreamIDs: []uint64{f.upstream.ID}}); err != nil {
		t.Fatalf("inactive upstreams should be accepted: %v", err)
	}
}

func TestCreate_StoresOnlyHashAndCiphertext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	desc := "  ci key  "
	created, err := f.service.Create(ctx, CreateInput{Name: "ci", Description: &desc, UpstreamIDs: []uint64{f.upstream.ID, f.upstream.ID}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(created.Token, security.APIKeyPrefix) {
		t.Fatalf("unexpected token %q", created.Token)
	}

	row, err := f.store.ClientKeyByID(ctx, created.Key.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if row.KeyHash == created.Token || row.KeyValueEncrypted == created.Token || strings.Contains(row.KeyValueEncrypted, created.Token) {
		t.Fatalf("plaintext stored")
	}
	if row.KeyPrefix != created.Token[:12] || row.Description == nil || *row.Description != "ci key" {
		t.Fatalf("unexpected row %+v", row)
	}
	if len(row.Authorizations) != 1 || !row.AuthorizedFor(f.upstream.ID) {
		t.Fatalf("unexpected authorizations %+v", row.Authorizations)
	}

	_, revealed, err := f.service.Reveal(ctx, created.Key.ID)
	if err != nil || revealed != created.Token {
		t.Fatalf("reveal mismatch: %v", err)
	}

	if _, err := f.verifier.VerifyToken(ctx, created.Token); err != nil {
		t.Fatalf("issued key should verify: %v", err)
	}
}

func TestReveal_LegacyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	legacy := models.ClientKey{KeyHash: "h", KeyPrefix: "sk-auto-lega", Name: "legacy", Active: true}
	if err := f.store.CreateClientKey(ctx, &legacy, []uint64{f.upstream.ID}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := f.service.Reveal(ctx, legacy.ID); !errors.Is(err, ErrNotRevealable) {
		t.Fatalf("expected ErrNotRevealable, got %v", err)
	}
	if _, _, err := f.service.Reveal(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeAndDelete_InvalidateCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	revoked, err := f.service.Create(ctx, CreateInput{Name: "revoked", UpstreamIDs: []uint64{f.upstream.ID}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.verifier.VerifyToken(ctx, revoked.Token); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.service.Revoke(ctx, revoked.Key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := f.verifier.VerifyToken(ctx, revoked.Token); !access.IsKind(err, access.KindInvalid) {
		t.Fatalf("revoked key must fail on the next verification, got %v", err)
	}

	deleted, err := f.service.Create(ctx, CreateInput{Name: "deleted", UpstreamIDs: []uint64{f.upstream.ID}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.verifier.VerifyToken(ctx, deleted.Token); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.service.Delete(ctx, deleted.Key.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.verifier.VerifyToken(ctx, deleted.Token); !access.IsKind(err, access.KindInvalid) {
		t.Fatalf("deleted key must fail on the next verification, got %v", err)
	}
	if err := f.service.Delete(ctx, deleted.Key.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
