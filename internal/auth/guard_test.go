package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("guard-test-secret")

func activeUserWithRole() *User {
	role := NewRole("r1", "editor", "Editor", "", RoleTypeUser, []Permission{
		perm("doc.page.edit"),
		perm("doc.page.read"),
	})
	u := NewUser("u1", "alice", "alice@example.com", "hash", Profile{})
	u.AddRole(role)
	return u
}

func TestIssueAndValidateAccess(t *testing.T) {
	user := activeUserWithRole()
	guard, err := NewSessionGuard(newMemUsers(user), NewEvaluator(), testSecret,
		WithIssuer("guard-test"))
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}

	pair, err := guard.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("empty token in pair")
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatalf("refresh must outlive access")
	}

	principal, err := guard.ValidateAccess(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if principal.User.ID != "u1" {
		t.Fatalf("unexpected principal: %s", principal.User.ID)
	}
	if len(principal.TokenPermissions) != 2 {
		t.Fatalf("expected 2 embedded permissions, got %v", principal.TokenPermissions)
	}
}

func TestAccessTokenClaimShapes(t *testing.T) {
	user := activeUserWithRole()
	guard, err := NewSessionGuard(newMemUsers(user), NewEvaluator(), testSecret)
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	pair, err := guard.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	access, err := guard.parse(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if access.TokenType != TokenTypeAccess {
		t.Fatalf("unexpected access type: %s", access.TokenType)
	}
	if access.KeyVersion == nil || *access.KeyVersion != user.KeyVersion() {
		t.Fatalf("access token must embed the current key version")
	}
	if len(access.Permissions) == 0 {
		t.Fatalf("access token must embed a permissions snapshot")
	}
	if access.ID == "" {
		t.Fatalf("missing jti")
	}

	refresh, err := guard.parse(pair.RefreshToken)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if refresh.TokenType != TokenTypeRefresh {
		t.Fatalf("unexpected refresh type: %s", refresh.TokenType)
	}
	if refresh.KeyVersion != nil || len(refresh.Permissions) != 0 {
		t.Fatalf("refresh token must not carry key_version or permissions")
	}
}

func TestValidateAccessVersionMismatch(t *testing.T) {
	user := activeUserWithRole()
	guard, err := NewSessionGuard(newMemUsers(user), NewEvaluator(), testSecret)
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	pair, err := guard.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	// Any invalidating operation after issuance revokes the token.
	user.InvalidatePermissionCache()

	_, err = guard.ValidateAccess(context.Background(), pair.AccessToken)
	if !errors.Is(err, ErrTokenVersionMismatch) {
		t.Fatalf("expected ErrTokenVersionMismatch, got %v", err)
	}
}

func TestValidateAccessExpired(t *testing.T) {
	user := activeUserWithRole()
	issued := time.Now().UTC()
	clock := issued
	guard, err := NewSessionGuard(newMemUsers(user), NewEvaluator(), testSecret,
		WithAccessTTL(time.Minute),
		WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	pair, err := guard.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	clock = issued.Add(2 * time.Minute)
	if _, err := guard.ValidateAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateAccessRejectsRefreshToken(t *testing.T) {
	user := activeUserWithRole()
	guard, err := NewSessionGuard(newMemUsers(user), NewEvaluator(), testSecret)
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	pair, err := guard.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if _, err := guard.ValidateAccess(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for refresh token, got %v", err)
	}
	if _, err := guard.ValidateRefresh(context.Background(), pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for access token, got %v", err)
	}
}

func TestValidateAccessGarbage(t *testing.T) {
	user := activeUserWithRole()
	guard, err := NewSessionGuard(newMemUsers(user), NewEvaluator(), testSecret)
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	for _, token := range []string{"", "   ", "not.a.jwt"} {
		if _, err := guard.ValidateAccess(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("token %q: expected ErrTokenInvalid, got %v", token, err)
		}
	}
}

func TestValidateAccessWrongSecret(t *testing.T) {
	user := activeUserWithRole()
	users := newMemUsers(user)
	issuer, err := NewSessionGuard(users, NewEvaluator(), []byte("other-secret"))
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	verifier, err := NewSessionGuard(users, NewEvaluator(), testSecret)
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	pair, err := issuer.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if _, err := verifier.ValidateAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}

func TestValidateAccessInactiveUser(t *testing.T) {
	user := activeUserWithRole()
	guard, err := NewSessionGuard(newMemUsers(user), NewEvaluator(), testSecret)
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	pair, err := guard.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	user.Suspend()
	if _, err := guard.ValidateAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrUserSuspended) {
		t.Fatalf("expected ErrUserSuspended, got %v", err)
	}
}

func TestRefreshSurvivesVersionBump(t *testing.T) {
	user := activeUserWithRole()
	guard, err := NewSessionGuard(newMemUsers(user), NewEvaluator(), testSecret)
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	pair, err := guard.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	// Revoke outstanding access tokens. The refresh token deliberately
	// remains exchangeable; the new access token picks up the new version.
	user.InvalidatePermissionCache()

	fresh, refreshed, err := guard.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.ID != user.ID {
		t.Fatalf("unexpected refreshed user: %s", refreshed.ID)
	}
	claims, err := guard.parse(fresh.AccessToken)
	if err != nil {
		t.Fatalf("parse fresh access: %v", err)
	}
	if claims.KeyVersion == nil || *claims.KeyVersion != user.KeyVersion() {
		t.Fatalf("fresh access must carry the bumped version")
	}
}

func TestRefreshRejectsInactiveUser(t *testing.T) {
	user := activeUserWithRole()
	guard, err := NewSessionGuard(newMemUsers(user), NewEvaluator(), testSecret)
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	pair, err := guard.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	user.Deactivate()
	if _, _, err := guard.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}
