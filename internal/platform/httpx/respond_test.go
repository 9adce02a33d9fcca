package httpx

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, 409, "Duplicate Request", "key already used")

	require.Equal(t, 409, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var detail ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, "Duplicate Request", detail.Title)
	require.Equal(t, 409, detail.Status)
	require.Equal(t, "key already used", detail.Detail)
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, 200, map[string]int64{"quantity": 70})

	require.Equal(t, 200, rec.Code)
	require.JSONEq(t, `{"quantity":70}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/stock/add", strings.NewReader(`{"product_id":11}`))
	var payload struct {
		ProductID int64 `json:"product_id"`
	}
	require.NoError(t, DecodeJSON(req, &payload))
	require.Equal(t, int64(11), payload.ProductID)

	req = httptest.NewRequest("POST", "/stock/add", strings.NewReader(`{`))
	require.Error(t, DecodeJSON(req, &payload))
}
