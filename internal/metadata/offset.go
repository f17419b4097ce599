package metadata

import (
	"fmt"
	"strconv"
	"strings"
)

// OffsetInfo is a consumer group's progress on one logical partition
type OffsetInfo struct {
	Offset        int64
	LastMessageID int64
}

// String encodes as "<lastMessageId>-<offset>"
func (o OffsetInfo) String() string {
	return fmt.Sprintf("%d-%d", o.LastMessageID, o.Offset)
}

// ParseOffsetInfo decodes "<lastMessageId>-<offset>". The offset is taken
// after the last dash so negative ids survive; an empty value is zero
// progress and a bare number is an offset without an id.
func ParseOffsetInfo(value string) (OffsetInfo, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return OffsetInfo{}, nil
	}

	idPart, offsetPart := "", value
	if idx := strings.LastIndex(value, "-"); idx > 0 {
		idPart, offsetPart = value[:idx], value[idx+1:]
	}

	var info OffsetInfo
	var err error
	if info.Offset, err = strconv.ParseInt(offsetPart, 10, 64); err != nil {
		return OffsetInfo{}, fmt.Errorf("invalid offset in %q", value)
	}
	if idPart != "" {
		if info.LastMessageID, err = strconv.ParseInt(idPart, 10, 64); err != nil {
			return OffsetInfo{}, fmt.Errorf("invalid message id in %q", value)
		}
	}
	return info, nil
}
