package oracle

import (
	"context"
	"errors"
)

// Errors reported by oracle clients.
var (
	ErrEmptyResponse = errors.New("oracle returned an empty response")
	ErrNotConfigured = errors.New("oracle credential is not configured")
)

// Prompt is the fixed instruction sent along with every banknote image.
const Prompt = `Authenticate this Indian currency note. Choose: REAL or FAKE.

CRITICAL: If serial numbers are all zeros (000 000000) → FAKE

Check: serial numbers, watermark, security thread, print quality, colors.

Format:
1. Classification: REAL or FAKE
2. Confidence: percentage
3. Explanation: brief reason

Must choose REAL or FAKE only.`

// Client sends an image to the inference service and returns its prose answer.
type Client interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (string, error)
}
