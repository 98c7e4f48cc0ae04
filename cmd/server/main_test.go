package main

import (
	"strings"
	"testing"

	"pumpledger/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", TxMaxAttempts: 5},
		{AuthSecret: strings.Repeat("x", 40), TxMaxAttempts: 5},
		{AuthSecret: "0123456789abcdef0123456789abcdef", TxMaxAttempts: 0},
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected %+v to be rejected", cfg)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", TxMaxAttempts: 5})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
