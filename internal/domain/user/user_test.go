package user

import "testing"

func TestCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr string
	}{
		{name: "valid", req: CreateRequest{Email: "a@b.com", Name: "A", Role: RoleAdmin}},
		{name: "default role", req: CreateRequest{Email: "a@b.com", Name: "A"}},
		{name: "missing email", req: CreateRequest{Name: "A", Role: RoleAdmin}, wantErr: "email is required"},
		{name: "invalid email", req: CreateRequest{Email: "bad", Name: "A", Role: RoleAdmin}, wantErr: "invalid email format"},
		{name: "missing name", req: CreateRequest{Email: "a@b.com", Role: RoleAdmin}, wantErr: "name is required"},
		{name: "invalid role", req: CreateRequest{Email: "a@b.com", Name: "A", Role: "editor"}, wantErr: "invalid role: must be admin, member, or viewer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if got := err.Error(); got != tt.wantErr {
				t.Fatalf("error = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestCreateRequest_DefaultRole(t *testing.T) {
	req := CreateRequest{Email: "a@b.com", Name: "A"}
	if err := req.Validate(); err != nil {
		t.Fatal(err)
	}
	if req.Role != RoleMember {
		t.Fatalf("expected member, got %q", req.Role)
	}
}
