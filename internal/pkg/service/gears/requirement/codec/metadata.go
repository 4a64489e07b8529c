package codec

import (
	"fmt"
	"strings"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
)

const (
	MetadataVersion = 1

	labelVersion     = "GearReqVersion"
	labelName        = "Name"
	labelDownloaded  = "IsDownloaded"
	labelInstalled   = "IsInstalled"
	labelOS          = "CompiledOs"
	labelConstraints = "Constraints"
	labelSize        = "ArchiveSize"
	labelChecksum    = "Checksum"
)

// Positions of values in the Metadata.
const (
	NameIndex       = 3
	DownloadedIndex = 5
	InstalledIndex  = 7
)

// Metadata describes a requirement as label/value pairs:
//
//	['GearReqVersion', 1, 'Name', <key>, 'IsDownloaded', 'yes', 'IsInstalled', 'yes', 'CompiledOs', <os>,
//	 'Constraints', [...], 'ArchiveSize', <bytes>, 'Checksum', <hex>]
type Metadata []any

func NewMetadata(entry registry.Entry, os string) Metadata {
	checksum := ""
	if len(entry.Archive) >= 8 {
		checksum = fmt.Sprintf("%x", entry.Archive[len(entry.Archive)-8:])
	}
	return Metadata{
		labelVersion, MetadataVersion,
		labelName, entry.Key.String(),
		labelDownloaded, yesNo(entry.Downloaded),
		labelInstalled, yesNo(entry.Installed),
		labelOS, os,
		labelConstraints, entry.Constraints.Strings(),
		labelSize, len(entry.Archive),
		labelChecksum, checksum,
	}
}

func (m Metadata) Name() string {
	return m.str(NameIndex)
}

func (m Metadata) IsDownloaded() bool {
	return m.str(DownloadedIndex) == "yes"
}

func (m Metadata) IsInstalled() bool {
	return m.str(InstalledIndex) == "yes"
}

func (m Metadata) Constraints() []string {
	v, _ := m.Get(labelConstraints)
	out, _ := v.([]string)
	return out
}

// Get returns value of the label.
func (m Metadata) Get(label string) (any, bool) {
	for i := 0; i+1 < len(m); i += 2 {
		if m[i] == label {
			return m[i+1], true
		}
	}
	return nil, false
}

// String renders the metadata as a list, strings are quoted.
func (m Metadata) String() string {
	var out strings.Builder
	out.WriteString("[")
	for i, v := range m {
		if i > 0 {
			out.WriteString(", ")
		}
		writeValue(&out, v)
	}
	out.WriteString("]")
	return out.String()
}

func (m Metadata) str(i int) string {
	if i >= len(m) {
		return ""
	}
	s, _ := m[i].(string)
	return s
}

func writeValue(out *strings.Builder, v any) {
	switch v := v.(type) {
	case string:
		out.WriteString("'" + strings.ReplaceAll(v, "'", `\'`) + "'")
	case []string:
		out.WriteString("[")
		for i, item := range v {
			if i > 0 {
				out.WriteString(", ")
			}
			writeValue(out, item)
		}
		out.WriteString("]")
	default:
		_, _ = fmt.Fprint(out, v)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
