package replication

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pgkeep/pgkeep/pkg/types"
)

func startTestServer(t *testing.T) (*grpc.Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := grpc.NewServer()
	RegisterSlotServer(s, NewCatalog())
	go s.Serve(ln)
	t.Cleanup(s.Stop)
	return s, ln.Addr().String()
}

func dialTestClient(t *testing.T, addr string) *SlotClient {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewSlotClient(conn)
}

func TestSlotClientCreateAndAdvanceRoundTrips(t *testing.T) {
	_, addr := startTestServer(t)
	client := dialTestClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.CreateSlot(ctx, &CreateSlotRequest{Server: "primary", SlotName: "pgkeep_standby"})
	require.NoError(t, err)
	assert.Equal(t, "pgkeep_standby", created.SlotName)

	advanced, err := client.AdvanceSlot(ctx, &AdvanceSlotRequest{
		Server:   "primary",
		SlotName: "pgkeep_standby",
		UpToLSN:  types.LSN(500),
	})
	require.NoError(t, err)
	assert.Equal(t, types.LSN(500), advanced.RestartLSN)
}

func TestSlotClientDropSlot(t *testing.T) {
	_, addr := startTestServer(t)
	client := dialTestClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.CreateSlot(ctx, &CreateSlotRequest{SlotName: "temp"})
	require.NoError(t, err)

	dropped, err := client.DropSlot(ctx, &DropSlotRequest{SlotName: "temp"})
	require.NoError(t, err)
	assert.Equal(t, "temp", dropped.SlotName)
}

func TestSlotClientAdvanceUnknownSlotReturnsError(t *testing.T) {
	_, addr := startTestServer(t)
	client := dialTestClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.AdvanceSlot(ctx, &AdvanceSlotRequest{SlotName: "ghost", UpToLSN: 1})
	assert.Error(t, err)
}
