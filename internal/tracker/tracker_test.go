package tracker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusPrecedence(t *testing.T) {
	tests := []struct {
		next, prev Status
		want       bool
	}{
		{StatusAccepted, StatusAccepted, true},
		{StatusReady, StatusAccepted, true},
		{StatusFailed, StatusAccepted, true},
		{StatusReady, StatusFailed, true},
		{StatusAccepted, StatusReady, false},
		{StatusFailed, StatusReady, false},
		{StatusAccepted, StatusFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.next.Supersedes(tt.prev), "%s over %s", tt.next, tt.prev)
	}
}

func TestUpsertQueryGuardsStatusColumns(t *testing.T) {
	assert.Equal(t,
		"CASE s WHEN 'ACCEPTED' THEN 1 WHEN 'FAILED' THEN 2 WHEN 'READY' THEN 3 ELSE 0 END",
		rankSQL("s"))

	for _, col := range []string{"status", "stage", "message", "updated_at"} {
		assert.Contains(t, upsertQuery, col+" = CASE WHEN ")
		assert.Contains(t, upsertQuery, "THEN EXCLUDED."+col+" ELSE report_status."+col+" END")
	}
	assert.Contains(t, upsertQuery, "reference_id = COALESCE(NULLIF(EXCLUDED.reference_id, ''), report_status.reference_id)")
	assert.Equal(t, 1, strings.Count(upsertQuery, "ON CONFLICT (trace_id)"))
}
