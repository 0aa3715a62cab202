package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJWKSGenerateAndShow(t *testing.T) {
	dir := t.TempDir()
	key := filepath.Join(dir, "keys", "private.pem")
	jwks := filepath.Join(dir, "public", "jwks.json")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"jwks", "generate", "--key", key, "--jwks", jwks})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out.String(), "TOOL_KEY_FILE="+key) {
		t.Fatalf("output = %q", out.String())
	}
	written, err := os.ReadFile(jwks)
	if err != nil {
		t.Fatal(err)
	}

	out.Reset()
	cmd = rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"jwks", "show", "--key", key})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out.String(), `"kty": "RSA"`) {
		t.Fatalf("show output = %s", out.String())
	}
	if !strings.Contains(string(written), `"kid"`) || strings.Contains(out.String(), `"d":`) {
		t.Fatalf("unexpected key material:\n%s\n%s", written, out.String())
	}
}

func TestShowMissingKey(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"jwks", "show", "--key", filepath.Join(t.TempDir(), "absent.pem")})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error")
	}
}
