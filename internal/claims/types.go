// Package claims provides the contract and record types for the external
// claims/registry system. The validation engine reads linked claim records
// through the Source interface and writes single registry fields back when
// an update proposal is applied.
package claims

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for all claim dates.
const DateLayout = "2006-01-02"

// Registry model names accepted by update proposals.
const (
	ModelInsuree        = "insuree"
	ModelHealthFacility = "health_facility"
)

// Insuree is the policy holder attached to a claim.
type Insuree struct {
	CHFID      string `json:"chf_id"`
	LastName   string `json:"last_name"`
	OtherNames string `json:"other_names"`
	// DOB is the date of birth in DateLayout format.
	DOB   string `json:"dob"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// HealthFacility is the facility that filed the claim.
type HealthFacility struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ClaimLine is one billed item or service on a claim.
type ClaimLine struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	// PriceAsked is the unit price billed by the facility.
	PriceAsked decimal.Decimal `json:"price_asked"`
}

// Claim is the external claim record a document can be linked to.
type Claim struct {
	ID       string         `json:"id"`
	Insuree  Insuree        `json:"insuree"`
	Facility HealthFacility `json:"health_facility"`
	// ICDCode is the primary diagnosis code.
	ICDCode   string `json:"icd_code"`
	VisitType string `json:"visit_type"`
	DateFrom  string `json:"date_from"`
	DateTo    string `json:"date_to"`
	// ClaimedAmount is the total amount billed.
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Items         []ClaimLine     `json:"items"`
	Services      []ClaimLine     `json:"services"`
}

// Policy is an insuree's coverage, valid between StartDate and ExpiryDate.
type Policy struct {
	ID          string `json:"id"`
	ProductCode string `json:"product_code"`
	StartDate   string `json:"start_date"`
	ExpiryDate  string `json:"expiry_date"`
	Status      string `json:"status"`
	// CoveredItemCodes and CoveredServiceCodes list what the policy's
	// product covers.
	CoveredItemCodes    []string `json:"covered_item_codes"`
	CoveredServiceCodes []string `json:"covered_service_codes"`
}

// CoversItem reports whether the policy's product covers an item code.
func (p *Policy) CoversItem(code string) bool {
	return containsCode(p.CoveredItemCodes, code)
}

// CoversService reports whether the policy's product covers a service code.
func (p *Policy) CoversService(code string) bool {
	return containsCode(p.CoveredServiceCodes, code)
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// RegistryFieldValue returns the current value of a registry field on the
// claim's linked records, addressed by model and field name as used in
// update proposals. The second return is false for unknown addresses.
func (c *Claim) RegistryFieldValue(model, field string) (string, bool) {
	switch model {
	case ModelInsuree:
		switch field {
		case "phone":
			return c.Insuree.Phone, true
		case "email":
			return c.Insuree.Email, true
		case "last_name":
			return c.Insuree.LastName, true
		case "other_names":
			return c.Insuree.OtherNames, true
		case "dob":
			return c.Insuree.DOB, true
		}
	case ModelHealthFacility:
		switch field {
		case "code":
			return c.Facility.Code, true
		case "name":
			return c.Facility.Name, true
		case "address":
			return c.Facility.Address, true
		}
	}
	return "", false
}
