package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const idempotencyKeyHeader = "X-Idempotency-Key"

// resolveMessageID reconciles the idempotency key carried in the request
// header with the message_id field in the body. Clients may send either or
// both, but a mismatch between the two is rejected rather than silently
// preferring one.
func resolveMessageID(c *gin.Context, bodyMessageID string) (string, error) {
	header := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
	body := strings.TrimSpace(bodyMessageID)

	switch {
	case header == "" && body == "":
		return "", newValidationError("message_id", "missing_message_id",
			"message_id body field or "+idempotencyKeyHeader+" header is required")
	case header != "" && body != "" && header != body:
		return "", newValidationError("message_id", "message_id_mismatch",
			idempotencyKeyHeader+" header and message_id body field disagree")
	case header != "":
		return header, nil
	default:
		return body, nil
	}
}

// replayStatus maps an idempotent result to its HTTP status: a fresh
// mutation reports created, a replay reports plain success.
func replayStatus(created int, replayed bool) int {
	if replayed {
		return 200
	}
	return created
}
