package store

import (
	"fmt"
	"time"

	"github.com/cadmalab/flowstore/internal/docval"
)

// marshalDoc converts a document to canonical JSON TEXT for storage.
// A nil object stores as "{}" so columns are never NULL.
func marshalDoc(obj docval.Object) (string, error) {
	if obj == nil {
		return "{}", nil
	}
	data, err := docval.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// unmarshalDoc parses stored TEXT back into a document. Uses
// docval.DecodeObject, which routes integers through json.Number so
// large values survive the round trip.
func unmarshalDoc(data string) (docval.Object, error) {
	if data == "" || data == "{}" {
		return docval.Object{}, nil
	}
	obj, err := docval.DecodeObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return obj, nil
}

// timeToMillis converts a timestamp to the stored integer form.
func timeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// millisToTime converts a stored integer timestamp back. Always UTC so
// reads are independent of the host timezone.
func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
