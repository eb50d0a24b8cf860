package claims

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimsight/document-processing-service/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL: server.URL,
		APIKey:  "test-api-key",
	})
	require.NoError(t, err)
	return client
}

func TestGetClaim(t *testing.T) {
	var capturedPath, capturedKey string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedKey = r.Header.Get("X-API-Key")
		json.NewEncoder(w).Encode(Claim{
			ID:            "CLM-001",
			ICDCode:       "J45",
			VisitType:     "O",
			DateFrom:      "2026-08-01",
			ClaimedAmount: decimal.NewFromFloat(1250.50),
			Insuree:       Insuree{CHFID: "070707070", LastName: "Ilunga", Phone: "+243811111111"},
			Facility:      HealthFacility{Code: "HF01", Name: "Viamo Clinic"},
			Items: []ClaimLine{
				{Code: "AMOX500", Quantity: decimal.NewFromInt(2), PriceAsked: decimal.NewFromFloat(3.25)},
			},
		})
	}))

	claim, err := client.GetClaim(context.Background(), "CLM-001")
	require.NoError(t, err)

	assert.Equal(t, "/claims/CLM-001", capturedPath)
	assert.Equal(t, "test-api-key", capturedKey)
	assert.Equal(t, "J45", claim.ICDCode)
	assert.Equal(t, "070707070", claim.Insuree.CHFID)
	assert.True(t, claim.ClaimedAmount.Equal(decimal.NewFromFloat(1250.50)))
	require.Len(t, claim.Items, 1)
	assert.Equal(t, "AMOX500", claim.Items[0].Code)
}

func TestGetClaimNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetClaim(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindDuplicateClaims(t *testing.T) {
	var capturedQuery map[string][]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{"claim_ids": []string{"CLM-007", "CLM-008"}})
	}))

	claim := &Claim{
		ID:       "CLM-001",
		DateFrom: "2026-08-01",
		Insuree:  Insuree{CHFID: "070707070"},
		Facility: HealthFacility{Code: "HF01"},
	}
	ids, err := client.FindDuplicateClaims(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, []string{"CLM-007", "CLM-008"}, ids)
	assert.Equal(t, []string{"070707070"}, capturedQuery["chf_id"])
	assert.Equal(t, []string{"HF01"}, capturedQuery["facility_code"])
	assert.Equal(t, []string{"2026-08-01"}, capturedQuery["date_from"])
	assert.Equal(t, []string{"CLM-001"}, capturedQuery["exclude"])
}

func TestGetActivePolicy(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/insurees/070707070/policies/active", r.URL.Path)
		assert.Equal(t, "2026-08-01", r.URL.Query().Get("date"))
		json.NewEncoder(w).Encode(Policy{
			ID:                  "POL-1",
			ProductCode:         "BASIC",
			Status:              "active",
			CoveredItemCodes:    []string{"AMOX500"},
			CoveredServiceCodes: []string{"CONS"},
		})
	}))

	policy, err := client.GetActivePolicy(context.Background(), "070707070", "2026-08-01")
	require.NoError(t, err)

	assert.Equal(t, "BASIC", policy.ProductCode)
	assert.True(t, policy.CoversItem("amox500"))
	assert.False(t, policy.CoversItem("PARA250"))
	assert.True(t, policy.CoversService("CONS"))
}

func TestUpdateRegistryField(t *testing.T) {
	var capturedMethod, capturedPath string
	var capturedBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedMethod = r.Method
		capturedPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&capturedBody)
		w.WriteHeader(http.StatusOK)
	}))

	err := client.UpdateRegistryField(context.Background(), ModelInsuree, "070707070", "phone", "+243822222222")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, capturedMethod)
	assert.Equal(t, "/registry/insuree/070707070", capturedPath)
	assert.Equal(t, map[string]string{"field": "phone", "value": "+243822222222"}, capturedBody)
}

func TestServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.GetClaim(context.Background(), "CLM-001")
	assert.ErrorIs(t, err, domain.ErrTransientInfra)
	assert.True(t, domain.IsRetryable(err))
}

func TestRegistryFieldValue(t *testing.T) {
	claim := &Claim{
		Insuree:  Insuree{Phone: "+243811111111", Email: "a@b.cd", LastName: "Ilunga"},
		Facility: HealthFacility{Code: "HF01", Name: "Viamo Clinic"},
	}

	tests := []struct {
		model, field string
		want         string
		ok           bool
	}{
		{ModelInsuree, "phone", "+243811111111", true},
		{ModelInsuree, "email", "a@b.cd", true},
		{ModelInsuree, "last_name", "Ilunga", true},
		{ModelHealthFacility, "name", "Viamo Clinic", true},
		{ModelInsuree, "national_id", "", false},
		{"product", "code", "", false},
	}
	for _, tc := range tests {
		got, ok := claim.RegistryFieldValue(tc.model, tc.field)
		assert.Equal(t, tc.ok, ok, "%s.%s", tc.model, tc.field)
		assert.Equal(t, tc.want, got, "%s.%s", tc.model, tc.field)
	}
}
