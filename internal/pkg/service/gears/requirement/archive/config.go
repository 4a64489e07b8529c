package archive

import (
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	TypeNone Type = "none"
	TypeGZIP Type = "gzip"
	TypeZSTD Type = "zstd"
)

const (
	DefaultGZIPLevel = gzip.BestSpeed
	DefaultZSTDLevel = int(zstd.SpeedDefault)
)

type Type string

// Config of the artifact compression.
type Config struct {
	Type      Type `configKey:"type" configUsage:"Archive compression type: none, gzip or zstd." validate:"required,oneof=none gzip zstd"`
	GZIPLevel int  `configKey:"gzipLevel" configUsage:"GZIP compression level." validate:"min=1,max=9"`
	ZSTDLevel int  `configKey:"zstdLevel" configUsage:"ZSTD compression level." validate:"min=1,max=4"`
}

func NewConfig() Config {
	return Config{
		Type:      TypeZSTD,
		GZIPLevel: DefaultGZIPLevel,
		ZSTDLevel: DefaultZSTDLevel,
	}
}

func (t Type) code() (byte, bool) {
	switch t {
	case TypeNone:
		return compressionNone, true
	case TypeGZIP:
		return compressionGZIP, true
	case TypeZSTD:
		return compressionZSTD, true
	default:
		return 0, false
	}
}
