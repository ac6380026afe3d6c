package auth

import (
	"errors"
	"testing"
)

func TestRegistryGrantRevoke(t *testing.T) {
	r := NewRegistry()

	if err := r.CreateRole("auditor", "alice"); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := r.CreateRole("auditor", "bob"); !errors.Is(err, ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}

	// Owner implicitly has the role.
	if !r.HasRole("auditor", "alice") {
		t.Fatal("owner should have role")
	}
	if r.HasRole("auditor", "bob") {
		t.Fatal("bob should not have role yet")
	}

	if err := r.Grant("auditor", "bob", "bob"); !errors.Is(err, ErrNotRoleOwner) {
		t.Fatalf("expected ErrNotRoleOwner, got %v", err)
	}
	if err := r.Grant("auditor", "alice", "bob"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !r.HasRole("auditor", "bob") {
		t.Fatal("bob should have role after grant")
	}

	if err := r.Revoke("auditor", "alice", "bob"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if r.HasRole("auditor", "bob") {
		t.Fatal("bob should not have role after revoke")
	}
	// Revoking again is a no-op.
	if err := r.Revoke("auditor", "alice", "bob"); err != nil {
		t.Fatalf("revoke non-member: %v", err)
	}
}

func TestRegistryTransferOwnership(t *testing.T) {
	r := NewRegistry()
	if err := r.CreateRole("operator", "alice"); err != nil {
		t.Fatalf("create role: %v", err)
	}

	if err := r.TransferOwnership("operator", "bob", "bob"); !errors.Is(err, ErrNotRoleOwner) {
		t.Fatalf("expected ErrNotRoleOwner, got %v", err)
	}
	if err := r.TransferOwnership("operator", "alice", "bob"); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if !r.HasRole("operator", "bob") {
		t.Fatal("new owner should have role")
	}
	if err := r.Grant("operator", "alice", "eve"); !errors.Is(err, ErrNotRoleOwner) {
		t.Fatalf("old owner should have lost control, got %v", err)
	}
}

func TestRegistryUnknownRole(t *testing.T) {
	r := NewRegistry()
	if r.HasRole("ghost", "alice") {
		t.Fatal("unknown role should report false")
	}
	if err := r.Grant("ghost", "alice", "bob"); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}
