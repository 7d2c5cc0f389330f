package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSubmissionEmail(t *testing.T) {
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	body := FormatSubmissionEmail("Contact Us", "X", "x@y.com", created)
	assert.Contains(t, body, "Contact Us")
	assert.Contains(t, body, "x@y.com")
	assert.Contains(t, body, "2024-01-01 10:00:00")
}

func TestFormatSubmissionEmailEscapesHTML(t *testing.T) {
	body := FormatSubmissionEmail(`<script>`, "", "", time.Time{})
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}
