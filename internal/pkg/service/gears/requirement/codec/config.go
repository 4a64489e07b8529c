package codec

import "github.com/c2h5oh/datasize"

const DefaultChunkSize = 1 * datasize.MB

type Config struct {
	ChunkSize datasize.ByteSize `configKey:"chunkSize" configUsage:"Max size of one exported chunk." validate:"required,min=1024"`
}

func NewConfig() Config {
	return Config{ChunkSize: DefaultChunkSize}
}
