package pemfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	k := KeyParams{
		KeyPath:       filepath.Join(dir, "console.pem"),
		SSHPubKeyPath: filepath.Join(dir, "console.pub"),
		Bits:          1024,
	}
	pemBytes, signer, err := k.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(pemBytes), "RSA PRIVATE KEY") {
		t.Errorf("got %q, want an RSA key", pemBytes)
	}
	pub, err := os.ReadFile(k.SSHPubKeyPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(pub), "ssh-rsa ") {
		t.Errorf("got %q, want an authorized key line", pub)
	}
	again, signer2, err := k.Load()
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(pemBytes) || string(signer2.PublicKey().Marshal()) != string(signer.PublicKey().Marshal()) {
		t.Errorf("Load regenerated an existing key")
	}
}
