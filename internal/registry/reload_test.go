package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/router-for-me/AutoRouter/internal/models"
)

func TestReloader_PublishesAndClears(t *testing.T) {
	src := &memorySource{rows: []models.Upstream{
		{ID: 1, Name: "openai", Provider: "openai", BaseURL: "https://api.openai.com/v1", APIKeyEncrypted: "enc:1-ks", Timeout: 30, Active: true},
	}}
	holder := NewHolder(nil)
	reloader := NewReloader(src, reverseCipher{}, holder, time.Minute)

	if err := reloader.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	cfg, err := holder.Load().Resolve("")
	if err != nil || cfg.Name != "openai" || cfg.APIKey != "sk-1" || cfg.Timeout != 30*time.Second {
		t.Fatalf("unexpected resolved config %+v, err=%v", cfg, err)
	}

	src.rows[0].Active = false
	if err := reloader.Reload(context.Background()); err != nil {
		t.Fatalf("reload empty: %v", err)
	}
	if holder.Load() != nil {
		t.Fatalf("expected registry to be cleared")
	}
	if src.creates != 0 {
		t.Fatalf("reload must never import seeds")
	}
}

func TestReloader_KeepsPreviousOnFailure(t *testing.T) {
	src := &memorySource{rows: []models.Upstream{
		{ID: 1, Name: "openai", Provider: "openai", BaseURL: "https://api.openai.com/v1", APIKeyEncrypted: "enc:x", Active: true},
	}}
	holder := NewHolder(nil)
	reloader := NewReloader(src, reverseCipher{}, holder, time.Minute)
	if err := reloader.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	previous := holder.Load()

	src.loadErr = errors.New("db down")
	if err := reloader.Reload(context.Background()); err == nil {
		t.Fatalf("expected reload error")
	}
	if holder.Load() != previous {
		t.Fatalf("failed reload replaced the registry")
	}
}
