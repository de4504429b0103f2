package config

import (
	"strings"
	"testing"
)

func TestConfig(t *testing.T) {

	t.Setenv(EnvDatabasePath, "./metasync.db")
	t.Setenv(EnvServiceKey, "test-service-key")

	config, err := Load("config.example.yaml")
	if err != nil {
		t.Fatal(err)
	}

	if got, want := config.DatabasePath, "./metasync.db"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if got, want := config.Graph.Version, "v21.0"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if got, want := config.Graph.FeedLimit, 25; got != want {
		t.Errorf("got %d want %d", got, want)
	}
	if !config.OAuthEnabled() {
		t.Error("expected oauth to be enabled by the example config")
	}
	if got := config.Facebook.OAuth2Config.Endpoint.AuthURL; !strings.Contains(got, "v21.0") {
		t.Errorf("auth url %q should carry the graph version", got)
	}
}

func TestConfigMissingEnv(t *testing.T) {

	t.Setenv(EnvDatabasePath, "")
	t.Setenv(EnvServiceKey, "test-service-key")

	_, err := Load("config.example.yaml")
	if err == nil {
		t.Fatal("expected an error for a missing database path")
	}
	if !strings.Contains(err.Error(), EnvDatabasePath) {
		t.Errorf("error %q should name %s", err, EnvDatabasePath)
	}
}
