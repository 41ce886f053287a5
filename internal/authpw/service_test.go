package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"siteeditor/api/internal/store"
)

// mockOperatorStore is a mock implementation of OperatorStore for testing
type mockOperatorStore struct {
	operators map[string]store.Operator // email -> operator
}

func newMockOperatorStore() *mockOperatorStore {
	return &mockOperatorStore{operators: make(map[string]store.Operator)}
}

func (m *mockOperatorStore) GetOperatorByEmail(_ context.Context, email string) (store.Operator, error) {
	if op, ok := m.operators[strings.ToLower(email)]; ok {
		return op, nil
	}
	return store.Operator{}, store.ErrNotFound
}

func (m *mockOperatorStore) CreateOperator(_ context.Context, item store.Operator) error {
	m.operators[item.Email] = item
	return nil
}

func (m *mockOperatorStore) CountOperators(context.Context) (int, error) {
	return len(m.operators), nil
}

func newTestService() (*Service, *mockOperatorStore) {
	st := newMockOperatorStore()
	return NewService(st).WithCost(bcrypt.MinCost), st
}

func TestCreateOperatorAndSignIn(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	op, err := svc.CreateOperator(ctx, CreateRequest{Email: " Avery@Example.com ", Password: "correct-horse", DisplayName: "Avery"})
	if err != nil {
		t.Fatalf("CreateOperator() error = %v", err)
	}
	if op.Role != "reviewer" {
		t.Fatalf("role = %q, want reviewer", op.Role)
	}
	if !strings.HasPrefix(op.ID, "op_") {
		t.Fatalf("id = %q, want op_ prefix", op.ID)
	}
	if st.operators["avery@example.com"].PasswordHash == "correct-horse" {
		t.Fatal("password stored in clear text")
	}

	signedIn, err := svc.SignIn(ctx, "avery@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if signedIn.ID != op.ID {
		t.Fatalf("SignIn() id = %q, want %q", signedIn.ID, op.ID)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.CreateOperator(ctx, CreateRequest{Email: "avery@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("CreateOperator() error = %v", err)
	}

	cases := []struct{ email, password string }{
		{"avery@example.com", "wrong-password"},
		{"nobody@example.com", "correct-horse"},
		{"", ""},
	}
	for _, tc := range cases {
		if _, err := svc.SignIn(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("SignIn(%q) error = %v, want ErrInvalidCredentials", tc.email, err)
		}
	}
}

func TestCreateOperatorValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateOperator(ctx, CreateRequest{Email: "a@example.com", Password: "short"}); err == nil {
		t.Fatal("expected short password to be rejected")
	}
	if _, err := svc.CreateOperator(ctx, CreateRequest{Email: "a@example.com", Password: "long-enough"}); err != nil {
		t.Fatalf("CreateOperator() error = %v", err)
	}
	if _, err := svc.CreateOperator(ctx, CreateRequest{Email: "A@example.com", Password: "long-enough"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate CreateOperator() error = %v, want ErrEmailTaken", err)
	}
}

func TestEnsureBootstrapOperator(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	created, err := svc.EnsureBootstrapOperator(ctx, "", "")
	if err != nil || created {
		t.Fatalf("EnsureBootstrapOperator(empty) = %v, %v", created, err)
	}

	created, err = svc.EnsureBootstrapOperator(ctx, "admin@example.com", "bootstrap-pass")
	if err != nil || !created {
		t.Fatalf("EnsureBootstrapOperator() = %v, %v", created, err)
	}
	if st.operators["admin@example.com"].Role != "admin" {
		t.Fatalf("bootstrap role = %q, want admin", st.operators["admin@example.com"].Role)
	}

	created, err = svc.EnsureBootstrapOperator(ctx, "second@example.com", "bootstrap-pass")
	if err != nil || created {
		t.Fatalf("second EnsureBootstrapOperator() = %v, %v", created, err)
	}
}
