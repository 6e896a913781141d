package commands

import (
	"bytes"
	"testing"

	"github.com/aquamarinepk/aqm"
)

func TestTokenRequiresSecret(t *testing.T) {
	var out bytes.Buffer
	if err := Token(&out, aqm.NewConfig()); err == nil {
		t.Fatal("Token() error = nil, want missing secret")
	}
	if out.Len() != 0 {
		t.Errorf("Token() wrote %q on failure", out.String())
	}
}
