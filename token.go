package mongolite

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/mongolite/mongolite/errors"
)

const (
	tokenTimestampWidth = 12
	tokenSequenceWidth  = 8
)

// ResumeTokenPayload is the decoded position a resume token points at
type ResumeTokenPayload struct {
	Database   string `json:"db"`
	Collection string `json:"coll"`
	Sequence   uint64 `json:"seq"`
	Timestamp  int64  `json:"ts"`
}

// generateResumeToken builds an opaque, lexicographically orderable resume
// token: a fixed-width zero-padded base-36 millisecond timestamp, a
// fixed-width zero-padded base-36 sequence, then a base64 encoded JSON
// payload of {db, coll, seq, ts}.
func generateResumeToken(db, coll string, seq uint64, ts time.Time) string {
	var sb strings.Builder
	sb.WriteString(pad36(uint64(ts.UnixMilli()), tokenTimestampWidth))
	sb.WriteString(pad36(seq, tokenSequenceWidth))
	payload, _ := json.Marshal(ResumeTokenPayload{
		Database:   db,
		Collection: coll,
		Sequence:   seq,
		Timestamp:  ts.UnixMilli(),
	})
	sb.WriteString(base64.StdEncoding.EncodeToString(payload))
	return sb.String()
}

func pad36(value uint64, width int) string {
	encoded := strconv.FormatUint(value, 36)
	if len(encoded) < width {
		encoded = strings.Repeat("0", width-len(encoded)) + encoded
	}
	return encoded
}

// parseResumeToken decodes a resume token back into its payload
func parseResumeToken(token string) (*ResumeTokenPayload, error) {
	if len(token) <= tokenTimestampWidth+tokenSequenceWidth {
		return nil, errors.New(errors.Validation, "malformed resume token")
	}
	encoded := token[tokenTimestampWidth+tokenSequenceWidth:]
	bits, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "malformed resume token")
	}
	var payload ResumeTokenPayload
	if err := json.Unmarshal(bits, &payload); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "malformed resume token")
	}
	return &payload, nil
}
