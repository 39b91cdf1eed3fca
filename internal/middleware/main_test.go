package middleware

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/vehicle-valuation/valuation-backend/internal/auth"
	"github.com/vehicle-valuation/valuation-backend/internal/db/models"
)

const testJWTSecret = "test-jwt-secret-that-is-32-chars!!"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func testSessions(t *testing.T) *auth.Sessions {
	t.Helper()
	s, err := auth.NewSessions(testJWTSecret)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	return s
}

// fakeUsers is an in-memory UserLookup.
type fakeUsers struct {
	users map[string]*models.User
	err   error
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{users: map[string]*models.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

var errLookup = errors.New("lookup failed")
