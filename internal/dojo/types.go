package dojo

import (
	"encoding/json"
	"fmt"
)

type Product struct {
	ID          int    `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ProdType    int    `json:"prod_type,omitempty"`
}

type Engagement struct {
	ID             int    `json:"id,omitempty"`
	Name           string `json:"name"`
	ProductID      int    `json:"product"`
	TargetStart    string `json:"target_start"`
	TargetEnd      string `json:"target_end"`
	Status         string `json:"status"`
	EngagementType string `json:"engagement_type,omitempty"`
}

// page is one page of a paginated list endpoint.
type page[T any] struct {
	Count   int    `json:"count"`
	Next    string `json:"next"`
	Results []T    `json:"results"`
}

type ImportOptions struct {
	EngagementID     int
	ScanType         string
	FilePath         string
	Active           bool
	Verified         bool
	CloseOldFindings bool
	SkipDuplicates   bool
}

// DefaultImportOptions returns the fixed flags every report is uploaded with.
func DefaultImportOptions(engagementID int, path, scanType string) ImportOptions {
	return ImportOptions{
		EngagementID:     engagementID,
		ScanType:         scanType,
		FilePath:         path,
		Active:           true,
		Verified:         false,
		CloseOldFindings: false,
		SkipDuplicates:   true,
	}
}

type ImportResult struct {
	TestID       int `json:"test_id"`
	EngagementID int `json:"engagement_id,omitempty"`
	ProductID    int `json:"product_id,omitempty"`
}

// UnmarshalJSON accepts the test reference either as "test_id", as a bare
// "test" id, or as a nested {"test": {"id": n}} object.
func (r *ImportResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		TestID       int             `json:"test_id"`
		Test         json.RawMessage `json:"test"`
		EngagementID int             `json:"engagement_id"`
		ProductID    int             `json:"product_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.TestID = raw.TestID
	r.EngagementID = raw.EngagementID
	r.ProductID = raw.ProductID

	if r.TestID == 0 && len(raw.Test) > 0 {
		var id int
		if err := json.Unmarshal(raw.Test, &id); err == nil {
			r.TestID = id
			return nil
		}
		var nested struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(raw.Test, &nested); err == nil {
			r.TestID = nested.ID
		}
	}
	return nil
}

// APIError is returned for any non-success response from the platform.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}
