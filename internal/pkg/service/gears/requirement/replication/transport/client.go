package transport

import (
	"context"
	"net"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

// Connection to a replica.
type Connection struct {
	addr    string
	session *yamux.Session
}

func Dial(ctx context.Context, logger log.Logger, addr string, timeout time.Duration) (*Connection, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot connect to "%s"`, addr)
	}

	session, err := yamux.Client(conn, multiplexerConfig(logger))
	if err != nil {
		_ = conn.Close()
		return nil, errors.PrefixErrorf(err, `cannot create session to "%s"`, addr)
	}

	return &Connection{addr: addr, session: session}, nil
}

func (c *Connection) Addr() string {
	return c.addr
}

// Send delivers one message and waits for the reply.
// A RemoteError means the message has been delivered, but the replica rejected it.
func (c *Connection) Send(ctx context.Context, shardID int, bundle []byte) error {
	stream, err := c.session.OpenStream()
	if err != nil {
		return errors.PrefixErrorf(err, `cannot open stream to "%s"`, c.addr)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	// Unblock IO on context cancellation
	stop := context.AfterFunc(ctx, func() {
		_ = stream.SetDeadline(time.Now())
	})
	defer stop()

	// The replica can reply before the whole bundle is written, if it rejects the message.
	// The reply unblocks the write.
	replyCh := make(chan error, 1)
	go func() {
		replyCh <- readReply(stream)
		_ = stream.SetWriteDeadline(time.Now())
	}()

	writeErr := writeFrame(stream, shardID, bundle)
	replyErr := <-replyCh

	var remoteErr RemoteError
	if writeErr != nil && !errors.As(replyErr, &remoteErr) {
		return errors.PrefixErrorf(writeErr, `cannot send message to "%s"`, c.addr)
	}
	return replyErr
}

func (c *Connection) IsClosed() bool {
	return c.session.IsClosed()
}

func (c *Connection) Close() error {
	return c.session.Close()
}
