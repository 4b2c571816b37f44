package shared

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("2026-03-02T23:30:00-02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseDate("03/02/2026")
	assert.Error(t, err)
}

func TestValidatorCollectsSortedIssues(t *testing.T) {
	v := NewValidator()
	v.Required("driverId", " ", "is required")
	start, ok := v.Date("periodStart", "2026-03-08")
	require.True(t, ok)
	end, ok := v.Date("periodEnd", "2026-03-02")
	require.True(t, ok)
	v.DateOrder("periodStart", start, "periodEnd", end)
	_, ok = v.Decimal("amount", "ten")
	assert.False(t, ok)

	issues := v.Issues()
	require.Len(t, issues, 4)
	assert.Equal(t, "amount", issues[0].Field)
	assert.Equal(t, "driverId", issues[1].Field)
	assert.Equal(t, "periodEnd", issues[2].Field)
	assert.Equal(t, "periodStart", issues[3].Field)
}

func TestValidatorDecimal(t *testing.T) {
	v := NewValidator()
	amount, ok := v.Decimal("amount", "-12.50")
	require.True(t, ok)
	assert.Equal(t, "-12.5", amount.String())
	assert.False(t, v.HasIssues())

	_, ok = v.Decimal("amount", "")
	assert.False(t, ok)
	assert.Equal(t, []ValidationIssue{{Field: "amount", Reason: "is required"}}, v.Issues())
}

func TestRejectWritesValidationEnvelope(t *testing.T) {
	v := NewValidator()
	v.Add("companyId", "is required")
	rec := httptest.NewRecorder()

	require.True(t, v.Reject(rec, "req-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Details struct {
				Fields []ValidationIssue `json:"fields"`
			} `json:"details"`
		} `json:"error"`
		RequestID string `json:"requestId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "validation_error", body.Error.Code)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, []ValidationIssue{{Field: "companyId", Reason: "is required"}}, body.Error.Details.Fields)

	assert.False(t, NewValidator().Reject(httptest.NewRecorder(), "req-2"))
}
