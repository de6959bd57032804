package room

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-signaling/pkg/auth"
)

// roomOp is one step of a random join/leave sequence.
type roomOp struct {
	Join   bool
	UserID uint32
	Room   int
}

func genRoomOp() gopter.Gen {
	return gen.Struct(reflect.TypeOf(roomOp{}), map[string]gopter.Gen{
		"Join":   gen.Bool(),
		"UserID": gen.UInt32Range(1, 8),
		"Room":   gen.IntRange(0, 3),
	})
}

// TestMembershipInvariants drives random join/leave sequences and checks the
// invariants that must hold after any sequence of operations.
func TestMembershipInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	roomName := func(n int) string { return fmt.Sprintf("room-%d", n) }

	// Property 1: a user occupies at most one room at any point
	properties.Property("user is in at most one room", prop.ForAll(
		func(ops []roomOp) bool {
			l, _ := newLocalTest()
			ctx := context.Background()
			conns := make(map[uint32]*Conn)

			for _, op := range ops {
				if op.Join {
					conn, ok := conns[op.UserID]
					if !ok {
						conn = NewConn(auth.User{ID: op.UserID, Username: "u"}, 256)
						conns[op.UserID] = conn
					}
					if _, err := l.Join(ctx, roomName(op.Room), conn, ""); err != nil {
						return false
					}
				} else {
					if err := l.Leave(ctx, roomName(op.Room), op.UserID); err != nil {
						return false
					}
				}

				for id := range conns {
					occupied := 0
					for r := 0; r <= 3; r++ {
						if l.UserInRoom(ctx, roomName(r), id) {
							occupied++
						}
					}
					if occupied > 1 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(genRoomOp()),
	))

	// Property 2: join then leave restores the user's absence
	properties.Property("join then leave leaves no membership", prop.ForAll(
		func(userID uint32, roomIdx int) bool {
			l, registry := newLocalTest()
			ctx := context.Background()

			conn := NewConn(auth.User{ID: userID, Username: "u"}, 16)
			name := roomName(roomIdx)
			if _, err := l.Join(ctx, name, conn, ""); err != nil {
				return false
			}
			if err := l.Leave(ctx, name, userID); err != nil {
				return false
			}
			return !l.UserInRoom(ctx, name, userID) && registry.Len() == 0
		},
		gen.UInt32Range(1, 1000),
		gen.IntRange(0, 3),
	))

	// Property 3: repeating a join changes nothing a second time
	properties.Property("join is idempotent", prop.ForAll(
		func(userID uint32, roomIdx int) bool {
			l, _ := newLocalTest()
			ctx := context.Background()

			conn := NewConn(auth.User{ID: userID, Username: "u"}, 16)
			name := roomName(roomIdx)
			first, err := l.Join(ctx, name, conn, "")
			if err != nil {
				return false
			}
			second, err := l.Join(ctx, name, conn, "")
			if err != nil {
				return false
			}
			return len(first) == len(second) && len(l.Participants(ctx, name)) == 1
		},
		gen.UInt32Range(1, 1000),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
