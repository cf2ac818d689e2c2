// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lbp

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// =========================================================================
// Hook Permission Tests
// =========================================================================

func TestEncodeDecodeHookPermissions(t *testing.T) {
	tests := []struct {
		name        string
		permissions HookPermissions
	}{
		{
			name:        "no permissions",
			permissions: HookPermissions{},
		},
		{
			name: "beforeSwap only",
			permissions: HookPermissions{
				BeforeSwap: true,
			},
		},
		{
			name: "bootstrap engine set",
			permissions: HookPermissions{
				AfterInitialize: true,
				BeforeSwap:      true,
			},
		},
		{
			name: "all hooks",
			permissions: HookPermissions{
				BeforeInitialize:      true,
				AfterInitialize:       true,
				BeforeAddLiquidity:    true,
				AfterAddLiquidity:     true,
				BeforeRemoveLiquidity: true,
				AfterRemoveLiquidity:  true,
				BeforeSwap:            true,
				AfterSwap:             true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := EncodeHookPermissions(tt.permissions)
			decoded := DecodeHookPermissions(flags)

			if decoded != tt.permissions {
				t.Errorf("round trip mismatch: got %+v, want %+v", decoded, tt.permissions)
			}
		})
	}
}

func TestGetHookPermissionsFromAddress(t *testing.T) {
	permissions := HookPermissions{
		AfterInitialize: true,
		BeforeSwap:      true,
	}
	flags := EncodeHookPermissions(permissions)

	var addr common.Address
	binary.BigEndian.PutUint16(addr[0:2], uint16(flags))

	decoded := GetHookPermissionsFromAddress(addr)

	if !decoded.AfterInitialize {
		t.Error("expected AfterInitialize to be true")
	}
	if !decoded.BeforeSwap {
		t.Error("expected BeforeSwap to be true")
	}
	if decoded.BeforeInitialize {
		t.Error("expected BeforeInitialize to be false")
	}
}

func TestHasPermission(t *testing.T) {
	flags := EncodeHookPermissions(HookPermissions{
		AfterInitialize: true,
		BeforeSwap:      true,
	})

	var addr common.Address
	binary.BigEndian.PutUint16(addr[0:2], uint16(flags))

	if !HasPermission(addr, HookAfterInitialize) {
		t.Error("expected HasPermission(AfterInitialize) to be true")
	}
	if !HasPermission(addr, HookBeforeSwap) {
		t.Error("expected HasPermission(BeforeSwap) to be true")
	}
	if HasPermission(addr, HookAfterSwap) {
		t.Error("expected HasPermission(AfterSwap) to be false")
	}
}

func TestValidateHookAddress(t *testing.T) {
	permissions := HookPermissions{
		AfterInitialize: true,
		BeforeSwap:      true,
	}
	flags := EncodeHookPermissions(permissions)

	var validAddr common.Address
	binary.BigEndian.PutUint16(validAddr[0:2], uint16(flags))

	if err := ValidateHookAddress(validAddr, permissions); err != nil {
		t.Errorf("ValidateHookAddress failed for valid address: %v", err)
	}

	var invalidAddr common.Address
	binary.BigEndian.PutUint16(invalidAddr[0:2], uint16(HookBeforeInitialize))

	if err := ValidateHookAddress(invalidAddr, permissions); err != ErrHookInvalidAddress {
		t.Errorf("expected ErrHookInvalidAddress, got: %v", err)
	}
}

func TestGenerateHookAddress(t *testing.T) {
	deployer := common.HexToAddress("0x1234567890123456789012345678901234567890")
	var salt [32]byte
	copy(salt[:], []byte("test-salt"))

	permissions := HookPermissions{
		AfterInitialize: true,
		BeforeSwap:      true,
	}

	addr := GenerateHookAddress(deployer, salt, permissions)

	decoded := GetHookPermissionsFromAddress(addr)
	if !decoded.AfterInitialize {
		t.Error("generated address should have AfterInitialize permission")
	}
	if !decoded.BeforeSwap {
		t.Error("generated address should have BeforeSwap permission")
	}
	if err := ValidateHookAddress(addr, permissions); err != nil {
		t.Errorf("generated address should validate: %v", err)
	}
}

// =========================================================================
// Benchmark Tests
// =========================================================================

func BenchmarkEncodeHookPermissions(b *testing.B) {
	permissions := HookPermissions{
		AfterInitialize: true,
		BeforeSwap:      true,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = EncodeHookPermissions(permissions)
	}
}

func BenchmarkHasPermission(b *testing.B) {
	var addr common.Address
	binary.BigEndian.PutUint16(addr[0:2], uint16(HookBeforeSwap|HookAfterInitialize))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = HasPermission(addr, HookBeforeSwap)
	}
}
