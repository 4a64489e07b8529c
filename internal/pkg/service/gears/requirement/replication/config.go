package replication

import (
	"time"

	"github.com/c2h5oh/datasize"
)

const DefaultMaxMessageSize = 1 * datasize.GB

type Config struct {
	Listen           string            `configKey:"listen" configUsage:"Listen address of the replication receiver, empty value disables the receiver." validate:"omitempty,hostname_port"`
	Replicas         []string          `configKey:"replicas" configUsage:"Addresses of replicas the installed requirements are propagated to." validate:"dive,hostname_port"`
	DialTimeout      time.Duration     `configKey:"dialTimeout" configUsage:"Timeout of a connection to a replica." validate:"minDuration=100ms,maxDuration=1m"`
	RetryMaxInterval time.Duration     `configKey:"retryMaxInterval" configUsage:"Max interval between delivery attempts." validate:"minDuration=10ms,maxDuration=10m"`
	AwaitTimeout     time.Duration     `configKey:"awaitTimeout" configUsage:"Default timeout of waiting for replicated requirements." validate:"minDuration=1s,maxDuration=10m"`
	MaxMessageSize   datasize.ByteSize `configKey:"maxMessageSize" configUsage:"Max size of one received replication message." validate:"required,min=1024"`
}

func NewConfig() Config {
	return Config{
		DialTimeout:      5 * time.Second,
		RetryMaxInterval: 10 * time.Second,
		AwaitTimeout:     15 * time.Second,
		MaxMessageSize:   DefaultMaxMessageSize,
	}
}
