package normalizer

import "github.com/mamadbah2/wacrm/internal/domain/models"

// wrapperKeys lists the transport layers that carry another message inside
// their "message" field, in the order they are peeled. Each layer is checked
// once against the current value; wrappers nested deeper than this chain are
// left in place and end up classified as UNKNOWN.
var wrapperKeys = []string{
	"ephemeralMessage",
	"viewOnceMessageV2",
	"viewOnceMessage",
	"documentWithCaptionMessage",
}

// Unwrap strips the ephemeral, view-once and captioned-document layers from
// a message payload and returns the content object. A missing or non-object
// payload yields an empty map, never nil.
func Unwrap(message any) map[string]any {
	var m map[string]any
	switch v := message.(type) {
	case map[string]any:
		m = v
	case models.Envelope:
		m = v
	}
	if m == nil {
		return map[string]any{}
	}

	for _, key := range wrapperKeys {
		if inner := object(object(m, key), "message"); inner != nil {
			m = inner
		}
	}

	return m
}
