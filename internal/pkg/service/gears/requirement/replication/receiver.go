package replication

import (
	"context"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/replication/transport"
)

// Applier applies a received requirement through the import path.
type Applier interface {
	ApplyReplicated(ctx context.Context, shardID int, bundle []byte) error
}

// Receiver is the replica side of the replication.
type Receiver struct {
	logger log.Logger
	server *transport.Server
}

type receiverDependencies interface {
	Logger() log.Logger
}

func NewReceiver(ctx context.Context, d receiverDependencies, cfg Config, applier Applier) (*Receiver, error) {
	logger := d.Logger().WithComponent("requirement.replication")
	server, err := transport.Listen(ctx, logger, cfg.Listen, cfg.MaxMessageSize, applier.ApplyReplicated)
	if err != nil {
		return nil, err
	}
	return &Receiver{logger: logger, server: server}, nil
}

func (r *Receiver) Addr() string {
	return r.server.Addr()
}

// Received returns number of applied messages.
func (r *Receiver) Received() uint64 {
	return r.server.Received()
}

func (r *Receiver) Close(ctx context.Context) error {
	return r.server.Close(ctx)
}
