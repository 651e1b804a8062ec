package service

import "testing"

func TestLoginThenLogout(t *testing.T) {
	s := NewUserService()

	var loginReply LoginReply
	if err := s.Login(&LoginArgs{Username: "alice", Password: "hunter2"}, &loginReply); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if loginReply.Token == "" {
		t.Fatal("expected non-empty token")
	}

	var logoutReply LogoutReply
	if err := s.Logout(&LogoutArgs{Token: loginReply.Token}, &logoutReply); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if !logoutReply.OK {
		t.Fatal("expected OK=true")
	}
}

func TestLoginRejectsEmptyCredentials(t *testing.T) {
	s := NewUserService()
	var reply LoginReply
	if err := s.Login(&LoginArgs{}, &reply); err == nil {
		t.Fatal("expected an error for empty credentials")
	}
}

func TestLogoutRejectsUnknownToken(t *testing.T) {
	s := NewUserService()
	var reply LogoutReply
	if err := s.Logout(&LogoutArgs{Token: "nonexistent"}, &reply); err == nil {
		t.Fatal("expected an error for an unknown token")
	}
}

func TestLogoutTokenIsSingleUse(t *testing.T) {
	s := NewUserService()

	var loginReply LoginReply
	if err := s.Login(&LoginArgs{Username: "bob", Password: "x"}, &loginReply); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var out LogoutReply
	if err := s.Logout(&LogoutArgs{Token: loginReply.Token}, &out); err != nil {
		t.Fatalf("first Logout failed: %v", err)
	}
	if err := s.Logout(&LogoutArgs{Token: loginReply.Token}, &out); err == nil {
		t.Fatal("expected second Logout of the same token to fail")
	}
}
