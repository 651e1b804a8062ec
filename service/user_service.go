// Package service holds the example UserService used by cmd/xrpc-server
// and cmd/xrpc-client to exercise a full request/response round trip,
// the way the teacher's Arith example did for its own RPC surface.
package service

import (
	"errors"
	"sync"
)

// LoginArgs/LoginReply and LogoutArgs/LogoutReply are the (args, reply)
// pairs UserService's methods are reflected against by server.NewService.
type LoginArgs struct {
	Username string
	Password string
}

type LoginReply struct {
	Token string
}

type LogoutArgs struct {
	Token string
}

type LogoutReply struct {
	OK bool
}

var errInvalidCredentials = errors.New("service: invalid username or password")
var errUnknownToken = errors.New("service: unknown session token")

// UserService is a minimal session store: Login exchanges a
// username/password for an opaque token, Logout invalidates it.
type UserService struct {
	mu       sync.Mutex
	sessions map[string]string // token -> username
	nextID   int
}

// NewUserService returns a UserService with no active sessions.
func NewUserService() *UserService {
	return &UserService{sessions: make(map[string]string)}
}

// Login accepts any non-empty username/password pair (there is no
// credential table — this is a wiring example, not an auth system) and
// mints a session token.
func (s *UserService) Login(args *LoginArgs, reply *LoginReply) error {
	if args.Username == "" || args.Password == "" {
		return errInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	token := tokenFor(s.nextID, args.Username)
	s.sessions[token] = args.Username

	reply.Token = token
	return nil
}

// Logout invalidates a session token previously returned by Login.
func (s *UserService) Logout(args *LogoutArgs, reply *LogoutReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[args.Token]; !ok {
		return errUnknownToken
	}
	delete(s.sessions, args.Token)
	reply.OK = true
	return nil
}

func tokenFor(id int, username string) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	n := id*2654435761 + len(username)
	if n < 0 {
		n = -n
	}
	buf := make([]byte, 12)
	for i := range buf {
		buf[i] = alphabet[n%len(alphabet)]
		n /= len(alphabet)
	}
	return username + "-" + string(buf)
}
