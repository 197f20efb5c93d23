package accounts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/claudeutils/claude-queue/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fs := storage.NewFileStore(t.TempDir())
	if err := fs.Init(); err != nil {
		t.Fatalf("init storage: %v", err)
	}
	return NewStore(fs)
}

func writeActiveCredentials(t *testing.T, s *Store, email string) {
	t.Helper()
	blob := `{"claudeAiOauth":{"subscriptionType":"max","email":"` + email + `"}}`
	path := filepath.Join(s.fs.ActivePath(), CredentialsFile)
	if err := os.WriteFile(path, []byte(blob), 0600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
}

func TestSaveAndList(t *testing.T) {
	s := newTestStore(t)
	writeActiveCredentials(t, s, "work@example.com")

	if err := s.Save("work"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	infos, err := s.List(false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(infos))
	}
	info := infos[0]
	if info.Name != "work" || !info.HasCredentials || !info.IsActive {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.SubscriptionType != "max" || info.Email != "work@example.com" {
		t.Errorf("subscription not read from credentials: %+v", info)
	}

	active, err := s.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != "work" {
		t.Errorf("expected active work, got %q", active)
	}
}

func TestSaveWithoutCredentials(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("work"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

func TestSavePreservesCreated(t *testing.T) {
	s := newTestStore(t)
	writeActiveCredentials(t, s, "a@example.com")
	if err := s.Save("work"); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	first, err := s.GetInfo("work")
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := s.Save("work"); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	second, err := s.GetInfo("work")
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if !second.Created.Equal(first.Created) {
		t.Errorf("Created changed on re-save: %v vs %v", first.Created, second.Created)
	}
}

func TestUseSwitchesActive(t *testing.T) {
	s := newTestStore(t)

	writeActiveCredentials(t, s, "work@example.com")
	if err := s.Save("work"); err != nil {
		t.Fatalf("save work: %v", err)
	}
	writeActiveCredentials(t, s, "home@example.com")
	if err := s.Save("home"); err != nil {
		t.Fatalf("save home: %v", err)
	}

	if err := s.Use("work"); err != nil {
		t.Fatalf("Use: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.fs.ActivePath(), CredentialsFile))
	if err != nil {
		t.Fatalf("read active credentials: %v", err)
	}
	if string(data) != `{"claudeAiOauth":{"subscriptionType":"max","email":"work@example.com"}}` {
		t.Errorf("active credentials not replaced: %s", data)
	}

	active, err := s.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != "work" {
		t.Errorf("expected active work, got %q", active)
	}

	for _, dir := range sessionDirs {
		if _, err := os.Stat(filepath.Join(s.fs.ActivePath(), dir)); err != nil {
			t.Errorf("session dir %s missing after switch: %v", dir, err)
		}
	}
}

func TestUseMissingProfile(t *testing.T) {
	s := newTestStore(t)
	if err := s.Use("nope"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestUseProfileWithoutCredentials(t *testing.T) {
	s := newTestStore(t)
	if err := os.MkdirAll(s.fs.AccountPath("empty"), 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := s.Use("empty"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

func TestUseBlockedWhileSpawning(t *testing.T) {
	s := newTestStore(t)
	writeActiveCredentials(t, s, "work@example.com")
	if err := s.Save("work"); err != nil {
		t.Fatalf("save: %v", err)
	}

	s.BeginSpawn()
	done := make(chan error, 1)
	go func() { done <- s.Use("work") }()

	select {
	case err := <-done:
		t.Fatalf("Use completed during spawn: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	s.EndSpawn()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Use after spawn: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Use still blocked after spawn finished")
	}
}

func TestNewBacksUpAndClears(t *testing.T) {
	s := newTestStore(t)
	writeActiveCredentials(t, s, "old@example.com")
	if err := os.MkdirAll(filepath.Join(s.fs.ActivePath(), "sessions"), 0700); err != nil {
		t.Fatalf("mkdir sessions: %v", err)
	}
	leftover := filepath.Join(s.fs.ActivePath(), "sessions", "chat.json")
	if err := os.WriteFile(leftover, []byte("{}"), 0600); err != nil {
		t.Fatalf("write session file: %v", err)
	}

	backup, err := s.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if backup == "" {
		t.Fatal("expected a backup name")
	}

	backupCreds := filepath.Join(s.fs.AccountPath(backup), CredentialsFile)
	if _, err := os.Stat(backupCreds); err != nil {
		t.Errorf("backup missing credentials: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.fs.ActivePath(), CredentialsFile)); !os.IsNotExist(err) {
		t.Error("active credentials not cleared")
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Error("session files not cleared")
	}
	if _, err := os.Stat(filepath.Join(s.fs.ActivePath(), "sessions")); err != nil {
		t.Errorf("sessions dir not recreated: %v", err)
	}

	active, err := s.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != "" {
		t.Errorf("expected no active profile, got %q", active)
	}
}

func TestNewWithoutCredentials(t *testing.T) {
	s := newTestStore(t)
	backup, err := s.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if backup != "" {
		t.Errorf("expected no backup, got %q", backup)
	}
}

func TestListHidesBackups(t *testing.T) {
	s := newTestStore(t)
	writeActiveCredentials(t, s, "a@example.com")
	if err := s.Save("work"); err != nil {
		t.Fatalf("save work: %v", err)
	}
	if err := s.Save(BackupPrefix + "20260101_000000"); err != nil {
		t.Fatalf("save backup: %v", err)
	}

	infos, err := s.List(false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "work" {
		t.Errorf("backups not hidden: %+v", infos)
	}

	infos, err = s.List(true)
	if err != nil {
		t.Fatalf("List with backups: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("expected 2 profiles including backup, got %d", len(infos))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	writeActiveCredentials(t, s, "a@example.com")
	if err := s.Save("work"); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Delete("work"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(s.fs.AccountPath("work")); !os.IsNotExist(err) {
		t.Error("profile directory not removed")
	}
	active, err := s.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != "" {
		t.Errorf("active pointer not cleared, got %q", active)
	}

	if err := s.Delete("work"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSaveRejectsInvalidName(t *testing.T) {
	s := newTestStore(t)
	writeActiveCredentials(t, s, "a@example.com")
	for _, name := range []string{"", "   ", "../escape", "a/b", "name!"} {
		if err := s.Save(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Save(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestSaveAPIKeyOverwrite(t *testing.T) {
	s := newTestStore(t)
	key := APIKey{Provider: ProviderAnthropic, APIKey: "sk-ant-1"}
	if err := s.SaveAPIKey("work", key, false); err != nil {
		t.Fatalf("SaveAPIKey: %v", err)
	}

	key.APIKey = "sk-ant-2"
	if err := s.SaveAPIKey("work", key, false); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if err := s.SaveAPIKey("work", key, true); err != nil {
		t.Fatalf("SaveAPIKey overwrite: %v", err)
	}

	got, err := s.GetAPIKey("work", ProviderAnthropic)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.APIKey != "sk-ant-2" {
		t.Errorf("expected overwritten key, got %q", got.APIKey)
	}

	info, err := os.Stat(s.apiKeysPath("work"))
	if err != nil {
		t.Fatalf("stat api keys file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("api keys file mode %v, want 0600", info.Mode().Perm())
	}
}

func TestSaveAPIKeyValidation(t *testing.T) {
	s := newTestStore(t)
	cases := []APIKey{
		{Provider: "openai", APIKey: "x"},
		{Provider: ProviderAnthropic},
		{Provider: ProviderBedrock, AuthMethod: AuthBearerToken},
		{Provider: ProviderBedrock, AuthMethod: AuthAccessKeys, AccessKeyID: "AKIA"},
		{Provider: ProviderBedrock, AuthMethod: "magic", BearerToken: "x"},
	}
	for _, key := range cases {
		if err := s.SaveAPIKey("work", key, false); err == nil {
			t.Errorf("SaveAPIKey(%+v): expected error", key)
		}
	}
}

func TestDeleteAPIKey(t *testing.T) {
	s := newTestStore(t)
	key := APIKey{Provider: ProviderAnthropic, APIKey: "sk-ant-1"}
	if err := s.SaveAPIKey("work", key, false); err != nil {
		t.Fatalf("SaveAPIKey: %v", err)
	}
	if err := s.DeleteAPIKey("work", ProviderAnthropic); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if _, err := s.GetAPIKey("work", ProviderAnthropic); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials after delete, got %v", err)
	}
	if err := s.DeleteAPIKey("work", ProviderAnthropic); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials for missing key, got %v", err)
	}
}

func TestEnvBindingsAnthropic(t *testing.T) {
	s := newTestStore(t)
	key := APIKey{Provider: ProviderAnthropic, APIKey: "sk-ant-1"}
	if err := s.SaveAPIKey("work", key, false); err != nil {
		t.Fatalf("SaveAPIKey: %v", err)
	}
	vars, err := s.EnvBindings("work")
	if err != nil {
		t.Fatalf("EnvBindings: %v", err)
	}
	if len(vars) != 1 || vars[0].Name != "ANTHROPIC_API_KEY" || vars[0].Value != "sk-ant-1" {
		t.Errorf("unexpected bindings: %+v", vars)
	}
}

func TestEnvBindingsBedrock(t *testing.T) {
	s := newTestStore(t)
	key := APIKey{
		Provider:    ProviderBedrock,
		AuthMethod:  AuthBearerToken,
		BearerToken: "bearer-1",
		Region:      "us-west-2",
	}
	if err := s.SaveAPIKey("work", key, false); err != nil {
		t.Fatalf("SaveAPIKey: %v", err)
	}
	vars, err := s.EnvBindings("work")
	if err != nil {
		t.Fatalf("EnvBindings: %v", err)
	}
	got := map[string]string{}
	for _, v := range vars {
		got[v.Name] = v.Value
	}
	want := map[string]string{
		"CLAUDE_CODE_USE_BEDROCK":               "1",
		"AWS_BEARER_TOKEN_BEDROCK":              "bearer-1",
		"AWS_REGION":                            "us-west-2",
		"ANTHROPIC_SMALL_FAST_MODEL_AWS_REGION": "us-west-2",
	}
	for name, value := range want {
		if got[name] != value {
			t.Errorf("binding %s = %q, want %q", name, got[name], value)
		}
	}
}

func TestEnvBindingsBedrockAccessKeys(t *testing.T) {
	s := newTestStore(t)
	key := APIKey{
		Provider:        ProviderBedrock,
		AuthMethod:      AuthAccessKeys,
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		Region:          "eu-central-1",
	}
	if err := s.SaveAPIKey("work", key, false); err != nil {
		t.Fatalf("SaveAPIKey: %v", err)
	}
	vars, err := s.EnvBindings("work")
	if err != nil {
		t.Fatalf("EnvBindings: %v", err)
	}
	got := map[string]string{}
	for _, v := range vars {
		got[v.Name] = v.Value
	}
	for name, value := range map[string]string{
		"AWS_ACCESS_KEY_ID":     "AKIAEXAMPLE",
		"AWS_SECRET_ACCESS_KEY": "secret",
		"AWS_SESSION_TOKEN":     "token",
		"AWS_REGION":            "eu-central-1",
	} {
		if got[name] != value {
			t.Errorf("binding %s = %q, want %q", name, got[name], value)
		}
	}
	if _, ok := got["AWS_BEARER_TOKEN_BEDROCK"]; ok {
		t.Error("bearer token bound alongside access keys")
	}
}

func TestUnsetListCoversBindings(t *testing.T) {
	unset := map[string]bool{}
	for _, name := range UnsetList() {
		unset[name] = true
	}
	for _, name := range []string{
		"ANTHROPIC_API_KEY",
		"AWS_BEARER_TOKEN_BEDROCK",
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"AWS_SESSION_TOKEN",
		"AWS_REGION",
		"CLAUDE_CODE_USE_BEDROCK",
		"ANTHROPIC_SMALL_FAST_MODEL_AWS_REGION",
	} {
		if !unset[name] {
			t.Errorf("UnsetList missing %s", name)
		}
	}
}
