package owners

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"condominio/internal/core"
)

func TestDirectoryOwnerLookup(t *testing.T) {
	d := New([]core.Owner{
		{ID: "u1", Name: "Rossi", Weight: 350, Active: true},
		{ID: "u2", Name: "Bianchi", Weight: 650, Active: false},
	})

	o, err := d.Owner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Owner: %v", err)
	}
	if o.Name != "Rossi" || o.Weight != 350 {
		t.Errorf("unexpected owner %+v", o)
	}

	// inactive owners still resolve
	if _, err := d.Owner(context.Background(), "u2"); err != nil {
		t.Errorf("inactive owner should resolve, got %v", err)
	}

	_, err = d.Owner(context.Background(), "ghost")
	if !errors.Is(err, core.ErrUnknownOwner) {
		t.Errorf("expected ErrUnknownOwner, got %v", err)
	}
}

func TestDirectoryActiveOwnersSortedByID(t *testing.T) {
	d := New([]core.Owner{
		{ID: "u3", Weight: 200, Active: true},
		{ID: "u1", Weight: 500, Active: true},
		{ID: "u2", Weight: 300, Active: false},
	})

	active, err := d.ActiveOwners(context.Background(), 1)
	if err != nil {
		t.Fatalf("ActiveOwners: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active owners, got %d", len(active))
	}
	if active[0].ID != "u1" || active[1].ID != "u3" {
		t.Errorf("expected [u1 u3], got [%s %s]", active[0].ID, active[1].ID)
	}
}

func TestDirectorySetActive(t *testing.T) {
	d := New([]core.Owner{{ID: "u1", Weight: 1000, Active: true}})

	if err := d.SetActive("u1", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	active, _ := d.ActiveOwners(context.Background(), 1)
	if len(active) != 0 {
		t.Errorf("expected no active owners, got %d", len(active))
	}

	if err := d.SetActive("ghost", true); !errors.Is(err, core.ErrUnknownOwner) {
		t.Errorf("expected ErrUnknownOwner, got %v", err)
	}
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owners.json")
	payload := `[
		{"id": "u1", "name": "Rossi", "weight": 350, "active": true},
		{"id": "u2", "name": "Bianchi", "weight": 650, "active": true}
	]`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}
	active, _ := d.ActiveOwners(context.Background(), 1)
	if len(active) != 2 {
		t.Errorf("expected 2 owners, got %d", len(active))
	}
}

func TestNewFromFileRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing id", `[{"name": "Rossi", "weight": 100, "active": true}]`},
		{"negative weight", `[{"id": "u1", "weight": -5, "active": true}]`},
		{"malformed json", `[{"id": "u1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "owners.json")
			if err := os.WriteFile(path, []byte(tt.payload), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewFromFile(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
