package supervisor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactorServesOneRequestPerConnection(t *testing.T) {
	d, _ := newTestDispatcher(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := NewReactor(ln, d)

	go r.Serve(context.Background())
	defer r.Stop()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, Plain{}, Request{Category: "ping"}))

	var resp Response
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, ReadFrame(conn, Plain{}, &resp))
	assert.Equal(t, StatusSuccess, resp.Status)
}
